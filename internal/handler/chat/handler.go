package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	authmodel "github.com/medsurplus/vendorchat/internal/model/auth"
	chatmodel "github.com/medsurplus/vendorchat/internal/model/chat"
	"github.com/medsurplus/vendorchat/internal/service/assistant"
	"github.com/medsurplus/vendorchat/internal/service/chart"
	"github.com/medsurplus/vendorchat/internal/service/coordinator"
	"github.com/medsurplus/vendorchat/pkg/utils"
)

// Sender carries one user turn through the run lifecycle.
type Sender interface {
	Send(ctx context.Context, user authmodel.User, in coordinator.SendInput) (coordinator.SendResult, error)
}

// Repository is the slice of the conversation repository the handler needs.
type Repository interface {
	ListConversations(ctx context.Context, ownerEmail string) ([]chatmodel.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (chatmodel.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]chatmodel.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ThreadAdopter re-registers thread handles for resumed conversations.
type ThreadAdopter interface {
	AdoptThread(threadID string, persisted []chatmodel.Message)
	RemoveThread(threadID string)
}

// Sessions exposes the active session.
type Sessions interface {
	Current() (authmodel.Session, bool)
}

// Handler serves the conversation endpoints.
type Handler struct {
	sender   Sender
	repo     Repository
	threads  ThreadAdopter
	sessions Sessions
	logger   *zap.Logger
}

// New creates the chat handler.
func New(sender Sender, repo Repository, threads ThreadAdopter, sessions Sessions, logger *zap.Logger) *Handler {
	return &Handler{
		sender:   sender,
		repo:     repo,
		threads:  threads,
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterRoutes mounts the conversation endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/messages", h.handleSend)
	r.Post("/chat/chart", h.handleChart)
	r.Get("/conversations", h.handleList)
	r.Get("/conversations/{conversationID}/messages", h.handleMessages)
	r.Delete("/conversations/{conversationID}", h.handleDelete)
}

type fileInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

type sendMetadata struct {
	CSVURL      string           `json:"csv_url,omitempty"`
	CSVFilename string           `json:"csv_filename,omitempty"`
	Products    []map[string]any `json:"products_data,omitempty"`
}

type sendPayload struct {
	Text           string        `json:"text"`
	ConversationID string        `json:"conversation_id,omitempty"`
	File           *fileInfo     `json:"file,omitempty"`
	Metadata       *sendMetadata `json:"metadata,omitempty"`
}

type sendResponse struct {
	Conversation chatmodel.Conversation `json:"conversation"`
	UserMessage  chatmodel.Message      `json:"userMessage"`
	Reply        *chatmodel.Message     `json:"reply,omitempty"`
	// TransientReply is an assistant-styled message that was NOT persisted:
	// either a run failure notice or a "no response" notice.
	TransientReply *chatmodel.Message `json:"transientReply,omitempty"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Current()
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var payload sendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := coordinator.SendInput{Text: payload.Text}
	if payload.Metadata != nil {
		in.Metadata.Products = payload.Metadata.Products
		if payload.Metadata.CSVURL != "" {
			in.Metadata.CSV = &chatmodel.CSVRef{
				URL:      payload.Metadata.CSVURL,
				Filename: payload.Metadata.CSVFilename,
			}
		}
	}

	var fileNotice string
	if payload.File != nil {
		if err := utils.ValidateUpload(payload.File.Size, payload.File.Type); err != nil {
			// The message still goes through, just without file processing.
			fileNotice = fmt.Sprintf(
				"I've received your file %s (%s), but I can't process its contents because this file type is not supported.",
				payload.File.Name, utils.FormatFileSize(payload.File.Size))
		} else {
			in.File = &chatmodel.FileRef{
				ID:       "file_" + uuid.NewString(),
				Filename: payload.File.Name,
				Bytes:    payload.File.Size,
			}
		}
	}

	if payload.ConversationID != "" {
		conv, err := h.repo.GetConversation(r.Context(), payload.ConversationID)
		if err != nil {
			utils.RespondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		// Re-seed the in-process thread if the process restarted since the
		// conversation was created.
		if persisted, err := h.repo.Messages(r.Context(), conv.ID); err == nil {
			h.threads.AdoptThread(conv.ThreadID, persisted)
		}
		in.Conversation = &conv
	}

	result, err := h.sender.Send(r.Context(), sess.User, in)
	if err != nil {
		h.respondSendError(w, result, err)
		return
	}

	resp := sendResponse{
		Conversation: result.Conversation,
		UserMessage:  result.UserMessage,
		Reply:        result.Reply,
	}
	if result.NoReply {
		resp.TransientReply = transientMessage(result.Conversation.ID,
			"I'm sorry, I couldn't generate a response. Please try again or rephrase your question.")
	}
	if fileNotice != "" && resp.Reply != nil {
		resp.Reply.Text = fileNotice + "\n\n" + resp.Reply.Text
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// respondSendError converts run failures into assistant-styled transient
// messages, except 401-class failures, which propagate so the client can
// force a logout.
func (h *Handler) respondSendError(w http.ResponseWriter, result coordinator.SendResult, err error) {
	switch {
	case errors.Is(err, coordinator.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, coordinator.ErrNotAuthenticated):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var runErr *assistant.RunError
	if errors.As(err, &runErr) {
		if runErr.Status == http.StatusUnauthorized {
			utils.RespondError(w, http.StatusUnauthorized, runErr.Message)
			return
		}
		utils.RespondJSON(w, http.StatusOK, sendResponse{
			Conversation: result.Conversation,
			UserMessage:  result.UserMessage,
			TransientReply: transientMessage(result.Conversation.ID,
				"Sorry, I encountered an error: "+runErr.Message),
		})
		return
	}

	h.logger.Error("send failed", zap.Error(err))
	utils.RespondError(w, http.StatusInternalServerError, "failed to process message")
}

func transientMessage(conversationID, text string) *chatmodel.Message {
	return &chatmodel.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         chatmodel.SenderAssistant,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Current()
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	conversations, err := h.repo.ListConversations(r.Context(), sess.User.Email)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	utils.RespondJSON(w, http.StatusOK, conversations)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	messages, err := h.repo.Messages(r.Context(), conversationID)
	if err != nil {
		h.logger.Error("failed to load messages",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conv, err := h.repo.GetConversation(r.Context(), conversationID)
	if err == nil && conv.ThreadID != "" {
		h.threads.RemoveThread(conv.ThreadID)
	}

	if err := h.repo.DeleteConversation(r.Context(), conversationID); err != nil {
		h.logger.Error("failed to delete conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChart(w http.ResponseWriter, r *http.Request) {
	var req chart.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	url, err := chart.BuildURL(req)
	if err != nil {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
			"message": "Cannot generate chart from the provided data.",
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"chart_url": url,
	})
}
