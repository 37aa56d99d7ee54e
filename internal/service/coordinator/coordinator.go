// Package coordinator sequences the conversation/run lifecycle: thread
// creation, message submission, remote run execution, status polling,
// response extraction and durable persistence.
package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsurplus/vendorchat/internal/config"
	authmodel "github.com/medsurplus/vendorchat/internal/model/auth"
	"github.com/medsurplus/vendorchat/internal/model/chat"
	"github.com/medsurplus/vendorchat/internal/service/assistant"
	"github.com/medsurplus/vendorchat/pkg/utils"
)

// previewRows caps how many product rows are rendered inline in a reply.
const previewRows = 10

var (
	ErrEmptyMessage     = errors.New("message text is required")
	ErrNotAuthenticated = errors.New("user not authenticated")
)

// ConversationStore is the slice of the repository the coordinator needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context, titleSeed, ownerEmail, threadID string) (chat.Conversation, error)
	SaveConversation(ctx context.Context, conv chat.Conversation) (chat.Conversation, error)
	AppendMessages(ctx context.Context, conversationID string, messages []chat.Message) error
}

// Runner is the slice of the assistant service the coordinator needs.
type Runner interface {
	CreateThread() string
	AppendUserMessage(threadID, text string, attachments []chat.FileRef) (assistant.ThreadMessage, error)
	StartRun(ctx context.Context, threadID string, user authmodel.User) (*chat.Run, error)
	RunStatus(threadID, runID string) (*chat.Run, error)
	ThreadMessages(threadID string) ([]assistant.ThreadMessage, error)
	EvictOldest(threadID string) (bool, error)
	DropMessage(threadID, messageID string) error
	Forget(runID string)
}

// Metadata rides along with a send triggered by a quick-action button.
type Metadata struct {
	CSV      *chat.CSVRef     `json:"csv,omitempty"`
	Products []map[string]any `json:"products_data,omitempty"`
}

// SendInput describes one send operation.
type SendInput struct {
	// Conversation is nil for a brand-new chat.
	Conversation *chat.Conversation
	Text         string
	File         *chat.FileRef
	Metadata     Metadata
}

// SendResult is the outcome of a successful (or reply-less) send.
type SendResult struct {
	Conversation chat.Conversation
	UserMessage  chat.Message
	// Reply is nil when NoReply is set.
	Reply *chat.Message
	// NoReply means the run completed but no assistant message newer than
	// the submitted turn was found; only the user message was persisted.
	NoReply bool
}

// Coordinator owns the send lifecycle. Sends against the same conversation
// are serialized by a per-conversation lock.
type Coordinator struct {
	repo   ConversationStore
	runner Runner
	cfg    config.AssistantConfig
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*conversationLock
}

// conversationLock is reference-counted so the registry entry can be removed
// once the last send against the conversation finishes.
type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// New builds a coordinator.
func New(repo ConversationStore, runner Runner, cfg config.AssistantConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		repo:   repo,
		runner: runner,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]*conversationLock),
	}
}

// Send carries one user turn through the full lifecycle. On success exactly
// one user message and one assistant message are persisted, in that order.
// On a terminal run failure the user message is persisted alone and the
// failure is returned for the caller to surface. A token-limit failure
// evicts the oldest history entries and retries the send, bounded by the
// configured retry limit.
func (c *Coordinator) Send(ctx context.Context, user authmodel.User, in SendInput) (SendResult, error) {
	if strings.TrimSpace(in.Text) == "" && in.File == nil {
		return SendResult{}, ErrEmptyMessage
	}
	if user.Email == "" {
		return SendResult{}, ErrNotAuthenticated
	}

	conv := in.Conversation
	if conv == nil {
		threadID := c.runner.CreateThread()
		created, err := c.repo.CreateConversation(ctx, in.Text, user.Email, threadID)
		if err != nil {
			return SendResult{}, err
		}
		conv = &created
	}

	unlock := c.lockConversation(conv.ID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		result, submitted, err := c.attempt(ctx, user, *conv, in)
		if err == nil {
			return result, nil
		}

		var runErr *assistant.RunError
		isRunFailure := errors.As(err, &runErr)

		if isRunFailure && assistant.IsTokenLimit(err) && attempt < c.cfg.RetryLimit {
			evicted, evictErr := c.runner.EvictOldest(conv.ThreadID)
			if evictErr == nil && evicted {
				// Unwind the submitted turn so the retry does not duplicate it.
				if submitted.ID != "" {
					_ = c.runner.DropMessage(conv.ThreadID, submitted.ID)
				}
				c.logger.Warn("token limit exceeded, evicted oldest history and retrying",
					zap.String("conversation_id", conv.ID),
					zap.Int("attempt", attempt+1))
				continue
			}
		}

		// Terminal run failure: record the user's turn alone so the prompt
		// is not lost, then surface the failure.
		if isRunFailure && submitted.ID != "" {
			if perr := c.repo.AppendMessages(ctx, conv.ID, []chat.Message{result.UserMessage}); perr != nil {
				c.logger.Error("failed to persist user message after run failure",
					zap.String("conversation_id", conv.ID),
					zap.Error(perr))
			}
		}
		result.Conversation = *conv
		return result, err
	}
}

func (c *Coordinator) attempt(ctx context.Context, user authmodel.User, conv chat.Conversation, in SendInput) (SendResult, assistant.ThreadMessage, error) {
	var attachments []chat.FileRef
	if in.File != nil {
		attachments = []chat.FileRef{*in.File}
	}

	submitted, err := c.runner.AppendUserMessage(conv.ThreadID, in.Text, attachments)
	if err != nil {
		return SendResult{}, assistant.ThreadMessage{}, err
	}

	userMsg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         chat.SenderUser,
		Text:           in.Text,
		CreatedAt:      submitted.CreatedAt,
		Attachments:    attachments,
	}
	result := SendResult{Conversation: conv, UserMessage: userMsg}

	run, err := c.runner.StartRun(ctx, conv.ThreadID, user)
	if err != nil {
		return result, submitted, err
	}

	run, err = c.poll(ctx, conv.ThreadID, run.ID)
	if err != nil {
		return result, submitted, err
	}
	if run.Status == chat.RunFailed {
		return result, submitted, &assistant.RunError{Status: run.Code, Message: run.ErrorMsg}
	}

	reply, err := c.extractReply(conv.ThreadID, submitted)
	if err != nil {
		return result, submitted, err
	}
	if reply == nil {
		c.logger.Warn("no assistant message newer than submitted turn",
			zap.String("conversation_id", conv.ID),
			zap.String("thread_id", conv.ThreadID))
		if perr := c.repo.AppendMessages(ctx, conv.ID, []chat.Message{userMsg}); perr != nil {
			return result, submitted, perr
		}
		result.NoReply = true
		return result, submitted, nil
	}

	text := reply.Content
	if text == "" {
		text = "I'm not sure how to respond to that."
	}
	// Quick-action sends carry pre-fetched rows; render a bounded preview
	// regardless of what the assistant itself returned.
	if len(in.Metadata.Products) > 0 {
		text += utils.ProductsPreview(in.Metadata.Products, previewRows)
	}

	assistantMsg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         chat.SenderAssistant,
		Text:           text,
		CreatedAt:      reply.CreatedAt,
		Attachments:    reply.Attachments,
		CSV:            in.Metadata.CSV,
	}

	if err := c.repo.AppendMessages(ctx, conv.ID, []chat.Message{userMsg, assistantMsg}); err != nil {
		return result, submitted, err
	}

	conv.UpdatedAt = time.Now().UTC()
	if saved, err := c.repo.SaveConversation(ctx, conv); err != nil {
		// The exchange is already durable; a failed bump only affects
		// ordering of the conversation list.
		c.logger.Warn("failed to bump conversation timestamp",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
	} else {
		conv = saved
	}

	result.Conversation = conv
	result.Reply = &assistantMsg
	return result, submitted, nil
}

// poll queries run status at the configured interval until the run settles,
// the context is cancelled, or the poll timeout elapses. Runs exist only for
// the duration of one poll cycle, so every exit path releases the handle.
func (c *Coordinator) poll(ctx context.Context, threadID, runID string) (*chat.Run, error) {
	defer c.runner.Forget(runID)

	deadline := time.NewTimer(c.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		run, err := c.runner.RunStatus(threadID, runID)
		if err != nil {
			return nil, err
		}
		if run.Status != chat.RunInProgress {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &assistant.RunError{Message: "assistant run timed out"}
		case <-ticker.C:
		}
	}
}

// extractReply scans the thread history newest-first for an assistant entry
// strictly newer than the submitted user turn. This guards against picking
// up a stale or welcome message when the history already contains prior
// assistant turns.
func (c *Coordinator) extractReply(threadID string, submitted assistant.ThreadMessage) (*assistant.ThreadMessage, error) {
	messages, err := c.runner.ThreadMessages(threadID)
	if err != nil {
		return nil, err
	}

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role == chat.SenderAssistant && msg.CreatedAt.After(submitted.CreatedAt) {
			return &msg, nil
		}
	}
	return nil, nil
}

func (c *Coordinator) lockConversation(conversationID string) func() {
	c.mu.Lock()
	lock, ok := c.locks[conversationID]
	if !ok {
		lock = &conversationLock{}
		c.locks[conversationID] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, conversationID)
		}
		c.mu.Unlock()
	}
}
