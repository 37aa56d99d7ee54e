package chat

import "time"

// Message senders.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// FileRef points at an uploaded or generated file attached to a message.
type FileRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes,omitempty"`
	URL      string `json:"url,omitempty"`
}

// CSVRef points at a separately hosted CSV export referenced by a reply.
type CSVRef struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Message is one persisted turn. Immutable once written; ordered by
// CreatedAt within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	Attachments    []FileRef `json:"attachments,omitempty"`
	CSV            *CSVRef   `json:"csv,omitempty"`
}
