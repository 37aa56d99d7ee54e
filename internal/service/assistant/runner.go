// Package assistant drives the remote assistant workflow: it keeps
// per-thread in-process history and executes runs against the execution
// backend's webhook.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsurplus/vendorchat/internal/config"
	authmodel "github.com/medsurplus/vendorchat/internal/model/auth"
	"github.com/medsurplus/vendorchat/internal/model/chat"
)

// RunError is an assistant execution failure. Status carries the
// collaborator's HTTP status when one was received.
type RunError struct {
	Status  int
	Message string
}

func (e *RunError) Error() string {
	return "assistant run failed: " + e.Message
}

// IsTokenLimit reports whether err indicates the remote context/token limit
// was exceeded, the one failure class that triggers history eviction.
func IsTokenLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "token") && strings.Contains(msg, "limit")
}

// Service executes runs and tracks their status for polling.
type Service struct {
	cfg     config.AssistantConfig
	threads *Threads
	client  *resty.Client
	logger  *zap.Logger

	mu   sync.RWMutex
	runs map[string]*chat.Run
}

// NewService wires the runner against the configured workflow webhook.
func NewService(cfg config.AssistantConfig, threads *Threads, logger *zap.Logger) *Service {
	client := resty.New()
	client.SetBaseURL(cfg.WebhookURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Content-Type", "application/json")

	return &Service{
		cfg:     cfg,
		threads: threads,
		client:  client,
		logger:  logger,
		runs:    make(map[string]*chat.Run),
	}
}

// CreateThread provisions a fresh thread handle.
func (s *Service) CreateThread() string {
	return s.threads.Create()
}

// AppendUserMessage records an outbound user turn in the thread history.
func (s *Service) AppendUserMessage(threadID, text string, attachments []chat.FileRef) (ThreadMessage, error) {
	return s.threads.Append(threadID, chat.SenderUser, text, attachments)
}

// ThreadMessages returns the thread's history in append order.
func (s *Service) ThreadMessages(threadID string) ([]ThreadMessage, error) {
	return s.threads.Messages(threadID)
}

// EvictOldest applies the configured token-limit eviction policy.
func (s *Service) EvictOldest(threadID string) (bool, error) {
	return s.threads.EvictOldest(threadID, s.cfg.EvictThreshold, s.cfg.EvictCount)
}

// DropMessage unwinds a submitted turn before a retry.
func (s *Service) DropMessage(threadID, messageID string) error {
	return s.threads.Drop(threadID, messageID)
}

// AdoptThread re-registers a thread handle from persisted messages when a
// conversation is resumed after a restart. Existing threads are untouched.
func (s *Service) AdoptThread(threadID string, persisted []chat.Message) {
	history := make([]ThreadMessage, 0, len(persisted))
	for _, msg := range persisted {
		history = append(history, ThreadMessage{
			ID:        msg.ID,
			Role:      msg.Sender,
			Content:   msg.Text,
			CreatedAt: msg.CreatedAt,
		})
	}
	s.threads.Adopt(threadID, history)
}

// RemoveThread forgets a thread's history, used when its conversation is
// deleted.
func (s *Service) RemoveThread(threadID string) {
	s.threads.Remove(threadID)
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	Message      string         `json:"message"`
	ThreadID     string         `json:"threadId"`
	History      []historyEntry `json:"history"`
	SystemPrompt string         `json:"systemPrompt"`
	User         runUser        `json:"user"`
}

type runUser struct {
	Email      string   `json:"email"`
	VendorSlug string   `json:"vendor_slug"`
	VendorID   int64    `json:"vendor_id"`
	Roles      []string `json:"roles"`
}

type runResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Message  string `json:"message,omitempty"`
}

// StartRun requests a run for the thread's newest user message and returns
// immediately with an in-progress run handle; callers poll RunStatus until
// it settles. The prior history travels separately from the new message.
func (s *Service) StartRun(ctx context.Context, threadID string, user authmodel.User) (*chat.Run, error) {
	messages, err := s.threads.Messages(threadID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 || messages[len(messages)-1].Role != chat.SenderUser {
		return nil, &RunError{Message: "no user message found to process"}
	}

	last := messages[len(messages)-1]
	history := make([]historyEntry, 0, len(messages)-1)
	for _, msg := range messages[:len(messages)-1] {
		history = append(history, historyEntry{Role: msg.Role, Content: msg.Content})
	}

	req := runRequest{
		Message:      last.Content,
		ThreadID:     threadID,
		History:      history,
		SystemPrompt: SystemPrompt(user),
		User: runUser{
			Email:      user.Email,
			VendorSlug: user.VendorSlug,
			VendorID:   user.ID,
			Roles:      user.Roles,
		},
	}

	run := &chat.Run{
		ID:       "run_" + uuid.NewString(),
		ThreadID: threadID,
		Status:   chat.RunInProgress,
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	go s.execute(ctx, run.ID, threadID, req)

	return s.snapshot(run.ID), nil
}

func (s *Service) execute(ctx context.Context, runID, threadID string, req runRequest) {
	var body runResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		Post("")

	switch {
	case err != nil:
		s.settle(runID, chat.RunFailed, "", err.Error(), 0)
	case resp.IsError():
		s.settle(runID, chat.RunFailed, "", webhookErrorMessage(resp.StatusCode(), resp.Body()), resp.StatusCode())
	case !body.Success:
		msg := body.Message
		if msg == "" {
			msg = "assistant workflow reported failure"
		}
		s.settle(runID, chat.RunFailed, "", msg, 0)
	default:
		if _, err := s.threads.Append(threadID, chat.SenderAssistant, body.Response, nil); err != nil {
			s.settle(runID, chat.RunFailed, "", err.Error(), 0)
			return
		}
		s.settle(runID, chat.RunCompleted, body.Response, "", 0)
	}
}

func (s *Service) settle(runID, status, response, errMsg string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return
	}
	run.Status = status
	run.Response = response
	run.ErrorMsg = errMsg
	run.Code = code

	if status == chat.RunFailed {
		s.logger.Warn("assistant run failed",
			zap.String("run_id", runID),
			zap.String("thread_id", run.ThreadID),
			zap.Int("status_code", code),
			zap.String("error", errMsg))
	} else {
		s.logger.Info("assistant run completed",
			zap.String("run_id", runID),
			zap.String("thread_id", run.ThreadID),
			zap.Int("response_length", len(response)))
	}
}

// RunStatus returns the run's current state.
func (s *Service) RunStatus(threadID, runID string) (*chat.Run, error) {
	run := s.snapshot(runID)
	if run == nil || run.ThreadID != threadID {
		return nil, &RunError{Message: fmt.Sprintf("run %s not found in thread %s", runID, threadID)}
	}
	return run, nil
}

// Forget drops a settled run from the registry.
func (s *Service) Forget(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

func (s *Service) snapshot(runID string) *chat.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	copied := *run
	return &copied
}

func webhookErrorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("webhook returned status %d", status)
}
