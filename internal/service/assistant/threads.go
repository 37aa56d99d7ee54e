package assistant

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medsurplus/vendorchat/internal/model/chat"
)

var ErrThreadNotFound = errors.New("thread not found")

// ThreadMessage is one in-process history entry. Threads are transient run
// context, distinct from persisted conversation messages.
type ThreadMessage struct {
	ID          string
	Role        string
	Content     string
	CreatedAt   time.Time
	Attachments []chat.FileRef
}

type thread struct {
	id       string
	messages []ThreadMessage
}

// Threads keeps the in-process message history per opaque thread handle.
type Threads struct {
	mu      sync.RWMutex
	threads map[string]*thread
}

// NewThreads builds an empty registry.
func NewThreads() *Threads {
	return &Threads{threads: make(map[string]*thread)}
}

// Create provisions a new thread and returns its opaque handle.
func (t *Threads) Create() string {
	id := "thread_" + uuid.NewString()

	t.mu.Lock()
	t.threads[id] = &thread{id: id, messages: make([]ThreadMessage, 0, 16)}
	t.mu.Unlock()

	return id
}

// Adopt registers a thread handle seeded with prior history, used when a
// persisted conversation is resumed after a restart. No-op when the thread
// already exists.
func (t *Threads) Adopt(threadID string, history []ThreadMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.threads[threadID]; ok {
		return
	}

	msgs := make([]ThreadMessage, len(history))
	copy(msgs, history)
	t.threads[threadID] = &thread{id: threadID, messages: msgs}
}

// Append adds an entry to the thread's history and returns it.
func (t *Threads) Append(threadID, role, content string, attachments []chat.FileRef) (ThreadMessage, error) {
	msg := ThreadMessage{
		ID:          "msg_" + uuid.NewString(),
		Role:        role,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		Attachments: attachments,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	th, ok := t.threads[threadID]
	if !ok {
		return ThreadMessage{}, ErrThreadNotFound
	}

	th.messages = append(th.messages, msg)
	return msg, nil
}

// Messages returns a copy of the thread's history in append order.
func (t *Threads) Messages(threadID string) ([]ThreadMessage, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	th, ok := t.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}

	out := make([]ThreadMessage, len(th.messages))
	copy(out, th.messages)
	return out, nil
}

// EvictOldest drops the count oldest entries, but only when the history is
// longer than threshold. Reports whether anything was evicted.
func (t *Threads) EvictOldest(threadID string, threshold, count int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	th, ok := t.threads[threadID]
	if !ok {
		return false, ErrThreadNotFound
	}

	if len(th.messages) <= threshold {
		return false, nil
	}
	if count > len(th.messages) {
		count = len(th.messages)
	}

	th.messages = append(th.messages[:0:0], th.messages[count:]...)
	return true, nil
}

// Drop removes a single entry by id, used to unwind a submitted user turn
// before a retry.
func (t *Threads) Drop(threadID, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	th, ok := t.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}

	for i, msg := range th.messages {
		if msg.ID == messageID {
			th.messages = append(th.messages[:i], th.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

// Remove forgets a thread entirely.
func (t *Threads) Remove(threadID string) {
	t.mu.Lock()
	delete(t.threads, threadID)
	t.mu.Unlock()
}
