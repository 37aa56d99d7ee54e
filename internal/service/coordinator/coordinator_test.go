package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medsurplus/vendorchat/internal/config"
	authmodel "github.com/medsurplus/vendorchat/internal/model/auth"
	"github.com/medsurplus/vendorchat/internal/model/chat"
	"github.com/medsurplus/vendorchat/internal/service/assistant"
)

type fakeStore struct {
	conversations map[string]chat.Conversation
	messages      map[string][]chat.Message
	appendErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string][]chat.Message),
	}
}

func (f *fakeStore) CreateConversation(ctx context.Context, titleSeed, ownerEmail, threadID string) (chat.Conversation, error) {
	conv := chat.Conversation{
		ID:         fmt.Sprintf("conv-%d", len(f.conversations)+1),
		ThreadID:   threadID,
		Title:      titleSeed,
		OwnerEmail: ownerEmail,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeStore) SaveConversation(ctx context.Context, conv chat.Conversation) (chat.Conversation, error) {
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeStore) AppendMessages(ctx context.Context, conversationID string, messages []chat.Message) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.messages[conversationID] = append(f.messages[conversationID], messages...)
	return nil
}

// fakeRunner scripts run outcomes per attempt.
type fakeRunner struct {
	threads *assistant.Threads

	// outcomes[i] decides the i-th StartRun. An empty string means success.
	outcomes []string
	// codes[i] is the collaborator status for the i-th failure.
	codes []int
	// reply is appended to the thread after a successful run.
	reply string
	// noReply completes the run without ever appending a reply, simulating
	// a thread whose newest assistant entry predates the user turn.
	noReply bool

	startCount   int
	evictCalls   int
	droppedIDs   []string
	evictRefused bool
	forgotten    []string

	runs map[string]*chat.Run
}

func newFakeRunner(reply string) *fakeRunner {
	return &fakeRunner{
		threads: assistant.NewThreads(),
		reply:   reply,
		runs:    make(map[string]*chat.Run),
	}
}

func (f *fakeRunner) CreateThread() string {
	return f.threads.Create()
}

func (f *fakeRunner) AppendUserMessage(threadID, text string, attachments []chat.FileRef) (assistant.ThreadMessage, error) {
	return f.threads.Append(threadID, chat.SenderUser, text, attachments)
}

func (f *fakeRunner) StartRun(ctx context.Context, threadID string, user authmodel.User) (*chat.Run, error) {
	attempt := f.startCount
	f.startCount++

	run := &chat.Run{ID: fmt.Sprintf("run-%d", attempt), ThreadID: threadID}

	outcome := ""
	if attempt < len(f.outcomes) {
		outcome = f.outcomes[attempt]
	}

	if outcome == "" {
		// Seed the settled state up front; RunStatus returns it on first poll.
		run.Status = chat.RunCompleted
		run.Response = f.reply
		if !f.noReply {
			f.threads.Append(threadID, chat.SenderAssistant, f.reply, nil)
		}
	} else {
		run.Status = chat.RunFailed
		run.ErrorMsg = outcome
		if attempt < len(f.codes) {
			run.Code = f.codes[attempt]
		}
	}

	f.runs[run.ID] = run
	return &chat.Run{ID: run.ID, ThreadID: threadID, Status: chat.RunInProgress}, nil
}

func (f *fakeRunner) RunStatus(threadID, runID string) (*chat.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, &assistant.RunError{Message: "run not found"}
	}
	copied := *run
	return &copied, nil
}

func (f *fakeRunner) ThreadMessages(threadID string) ([]assistant.ThreadMessage, error) {
	return f.threads.Messages(threadID)
}

func (f *fakeRunner) EvictOldest(threadID string) (bool, error) {
	f.evictCalls++
	if f.evictRefused {
		return false, nil
	}
	return f.threads.EvictOldest(threadID, 0, 2)
}

func (f *fakeRunner) DropMessage(threadID, messageID string) error {
	f.droppedIDs = append(f.droppedIDs, messageID)
	return f.threads.Drop(threadID, messageID)
}

func (f *fakeRunner) Forget(runID string) {
	f.forgotten = append(f.forgotten, runID)
	delete(f.runs, runID)
}

func testConfig() config.AssistantConfig {
	return config.AssistantConfig{
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
		RetryLimit:   1,
	}
}

func testUser() authmodel.User {
	return authmodel.User{ID: 7, Email: "vendor@example.com", VendorSlug: "acme", Roles: []string{"vendor"}}
}

func TestSendNewConversation(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("Here are your expiring products.")
	coord := New(store, runner, testConfig(), zap.NewNop())

	result, err := coord.Send(context.Background(), testUser(), SendInput{Text: "what is expiring?"})
	require.NoError(t, err)

	require.NotEmpty(t, result.Conversation.ID)
	require.NotEmpty(t, result.Conversation.ThreadID)
	require.False(t, result.NoReply)
	require.NotNil(t, result.Reply)
	require.Equal(t, "Here are your expiring products.", result.Reply.Text)

	persisted := store.messages[result.Conversation.ID]
	require.Len(t, persisted, 2)
	require.Equal(t, chat.SenderUser, persisted[0].Sender)
	require.Equal(t, chat.SenderAssistant, persisted[1].Sender)
	require.Equal(t, result.Conversation.ID, persisted[0].ConversationID)
	require.Equal(t, result.Conversation.ID, persisted[1].ConversationID)
}

func TestSendReleasesRunHandles(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("noted.")
	coord := New(store, runner, testConfig(), zap.NewNop())

	var conv *chat.Conversation
	for i := 0; i < 5; i++ {
		result, err := coord.Send(context.Background(), testUser(), SendInput{Text: "ping", Conversation: conv})
		require.NoError(t, err)
		conv = &result.Conversation
	}

	require.Empty(t, runner.runs, "settled runs should be dropped from the registry")
	require.Len(t, runner.forgotten, 5)

	coord.mu.Lock()
	held := len(coord.locks)
	coord.mu.Unlock()
	require.Zero(t, held, "conversation locks should be released after the send")
}

func TestSendReleasesRunHandleOnFailure(t *testing.T) {
	runner := newFakeRunner("")
	runner.outcomes = []string{"workflow exploded"}
	coord := New(newFakeStore(), runner, testConfig(), zap.NewNop())

	_, err := coord.Send(context.Background(), testUser(), SendInput{Text: "ping"})
	require.Error(t, err)
	require.Empty(t, runner.runs)
	require.Len(t, runner.forgotten, 1)
}

func TestSendEmptyMessageRejected(t *testing.T) {
	coord := New(newFakeStore(), newFakeRunner(""), testConfig(), zap.NewNop())

	_, err := coord.Send(context.Background(), testUser(), SendInput{Text: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendFileOnlyAllowed(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("Got your file.")
	coord := New(store, runner, testConfig(), zap.NewNop())

	file := &chat.FileRef{ID: "file_1", Filename: "inventory.csv", Bytes: 256}
	result, err := coord.Send(context.Background(), testUser(), SendInput{File: file})
	require.NoError(t, err)
	require.Len(t, result.UserMessage.Attachments, 1)
	require.Equal(t, "inventory.csv", result.UserMessage.Attachments[0].Filename)
}

func TestSendUnauthenticatedRejected(t *testing.T) {
	coord := New(newFakeStore(), newFakeRunner(""), testConfig(), zap.NewNop())

	_, err := coord.Send(context.Background(), authmodel.User{}, SendInput{Text: "hi"})
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSendRunFailurePersistsUserMessageAlone(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("")
	runner.outcomes = []string{"workflow exploded"}
	coord := New(store, runner, testConfig(), zap.NewNop())

	_, err := coord.Send(context.Background(), testUser(), SendInput{Text: "hello"})

	var runErr *assistant.RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, "workflow exploded", runErr.Message)

	require.Len(t, store.conversations, 1)
	for id := range store.conversations {
		persisted := store.messages[id]
		require.Len(t, persisted, 1)
		require.Equal(t, chat.SenderUser, persisted[0].Sender)
		require.Equal(t, "hello", persisted[0].Text)
	}
}

func TestSendUnauthorizedRunPropagatesStatus(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("")
	runner.outcomes = []string{"jwt expired"}
	runner.codes = []int{http.StatusUnauthorized}
	coord := New(store, runner, testConfig(), zap.NewNop())

	_, err := coord.Send(context.Background(), testUser(), SendInput{Text: "hello"})

	var runErr *assistant.RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, http.StatusUnauthorized, runErr.Status)
}

func TestSendTokenLimitEvictsAndRetriesOnce(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("Answer after eviction.")
	runner.outcomes = []string{"token limit exceeded", ""}
	coord := New(store, runner, testConfig(), zap.NewNop())

	result, err := coord.Send(context.Background(), testUser(), SendInput{Text: "long question"})
	require.NoError(t, err)
	require.NotNil(t, result.Reply)
	require.Equal(t, "Answer after eviction.", result.Reply.Text)

	require.Equal(t, 2, runner.startCount)
	require.Equal(t, 1, runner.evictCalls)
	// The first submitted turn is unwound before the retry.
	require.Len(t, runner.droppedIDs, 1)
}

func TestSendTokenLimitRetryBounded(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("")
	runner.outcomes = []string{"token limit exceeded", "token limit exceeded"}
	coord := New(store, runner, testConfig(), zap.NewNop())

	_, err := coord.Send(context.Background(), testUser(), SendInput{Text: "long question"})
	require.Error(t, err)
	require.True(t, assistant.IsTokenLimit(err))

	// One initial attempt plus exactly one retry.
	require.Equal(t, 2, runner.startCount)
	require.Equal(t, 1, runner.evictCalls)
}

func TestSendTokenLimitWithoutEvictionIsTerminal(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("")
	runner.outcomes = []string{"token limit exceeded"}
	runner.evictRefused = true
	coord := New(store, runner, testConfig(), zap.NewNop())

	_, err := coord.Send(context.Background(), testUser(), SendInput{Text: "hi"})
	require.Error(t, err)

	// History too short to evict: no retry.
	require.Equal(t, 1, runner.startCount)
}

func TestSendNoReplyPersistsUserMessageAlone(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("")
	// A completed run whose reply never lands in the thread.
	runner.noReply = true
	coord := New(store, runner, testConfig(), zap.NewNop())

	result, err := coord.Send(context.Background(), testUser(), SendInput{Text: "hello"})
	require.NoError(t, err)
	require.True(t, result.NoReply)
	require.Nil(t, result.Reply)

	persisted := store.messages[result.Conversation.ID]
	require.Len(t, persisted, 1)
	require.Equal(t, chat.SenderUser, persisted[0].Sender)
}

func TestSendAppendsProductsPreview(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("Report ready.")
	coord := New(store, runner, testConfig(), zap.NewNop())

	rows := make([]map[string]any, 12)
	for i := range rows {
		rows[i] = map[string]any{"name": "item"}
	}

	result, err := coord.Send(context.Background(), testUser(), SendInput{
		Text: "show report",
		Metadata: Metadata{
			Products: rows,
			CSV:      &chat.CSVRef{URL: "https://files.example.com/report.csv", Filename: "report.csv"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Reply)
	require.Contains(t, result.Reply.Text, "Report ready.")
	require.Contains(t, result.Reply.Text, "first 10 of 12 products")
	require.NotNil(t, result.Reply.CSV)
	require.Equal(t, "report.csv", result.Reply.CSV.Filename)
}

func TestSendExistingConversationReused(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner("Second answer.")
	coord := New(store, runner, testConfig(), zap.NewNop())

	first, err := coord.Send(context.Background(), testUser(), SendInput{Text: "first"})
	require.NoError(t, err)

	second, err := coord.Send(context.Background(), testUser(), SendInput{
		Text:         "second",
		Conversation: &first.Conversation,
	})
	require.NoError(t, err)

	require.Equal(t, first.Conversation.ID, second.Conversation.ID)
	require.Len(t, store.conversations, 1)
	require.Len(t, store.messages[first.Conversation.ID], 4)
	require.False(t, second.Conversation.UpdatedAt.Before(first.Conversation.UpdatedAt))
}

func TestSendPersistFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	store.appendErr = errors.New("backend down")
	runner := newFakeRunner("Answer.")
	coord := New(store, runner, testConfig(), zap.NewNop())

	_, err := coord.Send(context.Background(), testUser(), SendInput{Text: "hello"})
	require.ErrorContains(t, err, "backend down")
}
