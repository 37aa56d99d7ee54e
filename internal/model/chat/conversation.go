package chat

import "time"

// Conversation groups the persisted turns of one chat. ID is the durable
// identifier used by the persistence backend; ThreadID is the opaque handle
// correlating the conversation with remote assistant run context. The two
// identifier spaces are distinct and must never be conflated.
type Conversation struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Title      string    `json:"title"`
	OwnerEmail string    `json:"user_email"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
