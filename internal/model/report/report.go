package report

// Kind selects one of the pre-built vendor reports.
type Kind string

const (
	KindNearlyExpired Kind = "nearly_expired"
	KindRecalled      Kind = "recalled"
	KindHighQuality   Kind = "high_quality"
)

// Valid reports whether k names a known report.
func (k Kind) Valid() bool {
	switch k {
	case KindNearlyExpired, KindRecalled, KindHighQuality:
		return true
	}
	return false
}

// Row is one product record as returned by the report backend.
type Row map[string]any

// Params narrows a report request. Zero values mean "backend default".
type Params struct {
	VendorID   int64   `json:"vendor_id,omitempty"`
	Months     int     `json:"months,omitempty"`
	MinQuality float64 `json:"min_quality,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Skip       int     `json:"skip,omitempty"`
}

// Artifact is a produced report. Exactly one of Blob or DownloadURL is set
// depending on the retrieval mode; Rows accompany the JSON mode. Artifacts
// are produced on demand and never stored.
type Artifact struct {
	Kind        Kind   `json:"kind"`
	Rows        []Row  `json:"rows,omitempty"`
	Blob        []byte `json:"-"`
	DownloadURL string `json:"download_url,omitempty"`
	Filename    string `json:"filename"`
}
