package auth

// User is the marketplace profile issued alongside a bearer token.
type User struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	Roles       []string `json:"roles"`
	VendorSlug  string   `json:"vendorSlug,omitempty"`
}

// HasRole reports whether the profile carries the given role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdministrator reports whether the user may see cross-vendor data.
func (u User) IsAdministrator() bool {
	return u.HasRole("administrator")
}

// Session pairs a bearer token with the authenticated profile.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
