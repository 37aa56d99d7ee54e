// Package store implements the conversation repository against the remote
// persistence backend (a Postgres-backed REST API keyed by conversation id
// and owner email).
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsurplus/vendorchat/internal/config"
	"github.com/medsurplus/vendorchat/internal/model/chat"
)

// maxTitleLen bounds conversation titles derived from the first message.
const maxTitleLen = 30

// RepositoryError is a persistence transport or backend failure. Callers
// must distinguish it from an empty result.
type RepositoryError struct {
	Op     string
	Status int
	Err    error
}

func (e *RepositoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("repository %s: backend returned %d", e.Op, e.Status)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Repository is the CRUD client for conversations and messages.
type Repository struct {
	client *resty.Client
	logger *zap.Logger
}

// New builds a repository against the configured persistence backend.
func New(cfg config.StoreConfig, logger *zap.Logger) *Repository {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	if cfg.ServiceKey != "" {
		client.SetAuthToken(cfg.ServiceKey)
	}

	return &Repository{client: client, logger: logger}
}

// ListConversations returns the owner's conversations, newest activity
// first. The backend orders by updated_at descending; the order is
// re-established locally so the guarantee does not depend on it.
func (r *Repository) ListConversations(ctx context.Context, ownerEmail string) ([]chat.Conversation, error) {
	var out []chat.Conversation
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("user_email", ownerEmail).
		SetQueryParam("order", "updated_at.desc").
		SetResult(&out).
		Get("/conversations")
	if err != nil {
		return nil, &RepositoryError{Op: "list conversations", Err: err}
	}
	if resp.IsError() {
		return nil, &RepositoryError{Op: "list conversations", Status: resp.StatusCode()}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// CreateConversation persists a new conversation with a locally generated
// id, titled from the first message.
func (r *Repository) CreateConversation(ctx context.Context, titleSeed, ownerEmail, threadID string) (chat.Conversation, error) {
	now := time.Now().UTC()
	conv := chat.Conversation{
		ID:         uuid.NewString(),
		ThreadID:   threadID,
		Title:      DeriveTitle(titleSeed),
		OwnerEmail: ownerEmail,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	saved, err := r.SaveConversation(ctx, conv)
	if err != nil {
		return chat.Conversation{}, err
	}

	r.logger.Info("created conversation",
		zap.String("conversation_id", saved.ID),
		zap.String("thread_id", saved.ThreadID))
	return saved, nil
}

// SaveConversation upserts a conversation record, bumping nothing itself:
// the caller controls UpdatedAt.
func (r *Repository) SaveConversation(ctx context.Context, conv chat.Conversation) (chat.Conversation, error) {
	var out chat.Conversation
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(conv).
		SetResult(&out).
		Post("/conversations")
	if err != nil {
		return chat.Conversation{}, &RepositoryError{Op: "save conversation", Err: err}
	}
	if resp.IsError() {
		return chat.Conversation{}, &RepositoryError{Op: "save conversation", Status: resp.StatusCode()}
	}

	if out.ID == "" {
		// Backends that reply with no body still accepted the upsert.
		out = conv
	}
	return out, nil
}

// GetConversation fetches a single conversation by id.
func (r *Repository) GetConversation(ctx context.Context, conversationID string) (chat.Conversation, error) {
	var out chat.Conversation
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/conversations/" + conversationID)
	if err != nil {
		return chat.Conversation{}, &RepositoryError{Op: "get conversation", Err: err}
	}
	if resp.IsError() {
		return chat.Conversation{}, &RepositoryError{Op: "get conversation", Status: resp.StatusCode()}
	}
	return out, nil
}

// AppendMessages writes a batch of messages for one conversation. The
// backend offers no multi-row transaction guarantee, so partial application
// on failure must be treated as possible.
func (r *Repository) AppendMessages(ctx context.Context, conversationID string, messages []chat.Message) error {
	if len(messages) == 0 {
		return nil
	}

	batch := make([]chat.Message, len(messages))
	copy(batch, messages)
	for i := range batch {
		batch[i].ConversationID = conversationID
		if batch[i].CreatedAt.IsZero() {
			batch[i].CreatedAt = time.Now().UTC()
		}
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(batch).
		Post("/conversations/" + conversationID + "/messages")
	if err != nil {
		return &RepositoryError{Op: "append messages", Err: err}
	}
	if resp.IsError() {
		return &RepositoryError{Op: "append messages", Status: resp.StatusCode()}
	}
	return nil
}

// Messages returns a conversation's messages in ascending creation order.
func (r *Repository) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var out []chat.Message
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("order", "created_at.asc").
		SetResult(&out).
		Get("/conversations/" + conversationID + "/messages")
	if err != nil {
		return nil, &RepositoryError{Op: "get messages", Err: err}
	}
	if resp.IsError() {
		return nil, &RepositoryError{Op: "get messages", Status: resp.StatusCode()}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteConversation removes a conversation and its messages. Messages go
// first so that a crash between the two deletes never leaves a conversation
// referencing removed messages.
func (r *Repository) DeleteConversation(ctx context.Context, conversationID string) error {
	resp, err := r.client.R().
		SetContext(ctx).
		Delete("/conversations/" + conversationID + "/messages")
	if err != nil {
		return &RepositoryError{Op: "delete messages", Err: err}
	}
	if resp.IsError() {
		return &RepositoryError{Op: "delete messages", Status: resp.StatusCode()}
	}

	resp, err = r.client.R().
		SetContext(ctx).
		Delete("/conversations/" + conversationID)
	if err != nil {
		return &RepositoryError{Op: "delete conversation", Err: err}
	}
	if resp.IsError() {
		return &RepositoryError{Op: "delete conversation", Status: resp.StatusCode()}
	}

	r.logger.Info("deleted conversation", zap.String("conversation_id", conversationID))
	return nil
}

// DeriveTitle truncates a first-message seed to a bounded title, marking
// truncation with an ellipsis.
func DeriveTitle(seed string) string {
	seed = strings.TrimSpace(seed)
	runes := []rune(seed)
	if len(runes) <= maxTitleLen {
		return seed
	}
	return string(runes[:maxTitleLen]) + "..."
}
