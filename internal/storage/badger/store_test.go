package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/lead"
	"github.com/zhouzirui/embedchat/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTripKeepsPersistenceOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref := chat.SessionRef{ID: "s1", EmbedID: "e1", ClientUserID: "u1"}

	written := []chat.Message{
		{ID: "z-user", Role: chat.RoleUser, Content: "hi"},
		{ID: "a-assistant", Role: chat.RoleAssistant, Content: "hello"},
		{ID: "m-user", Role: chat.RoleUser, Content: "how are you?"},
	}
	for _, msg := range written {
		require.NoError(t, s.AppendMessage(ctx, ref, msg))
	}

	got, err := s.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, len(written))
	for i := range written {
		assert.True(t, got[i].Same(written[i]), "message %d: got %+v", i, got[i])
	}
}

func TestStoreSessionPrefixesDoNotCollide(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, chat.SessionRef{ID: "a"}, chat.Message{ID: "1", Role: chat.RoleUser, Content: "a"}))
	require.NoError(t, s.AppendMessage(ctx, chat.SessionRef{ID: "a/b"}, chat.Message{ID: "2", Role: chat.RoleUser, Content: "ab"}))

	got, err := s.LoadHistory(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Content)
}

func TestStoreOverrideAndCorrection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref := chat.SessionRef{ID: "s1"}

	require.NoError(t, s.AppendMessage(ctx, ref, chat.Message{ID: "m1", Role: chat.RoleUser, Content: "q"}))
	require.NoError(t, s.AppendMessage(ctx, ref, chat.Message{ID: "m2", Role: chat.RoleAssistant, Content: "captured"}))
	require.NoError(t, s.AppendMessage(ctx, ref, chat.Message{ID: "m2", Role: chat.RoleAssistant, Content: "override"}))

	require.NoError(t, s.UpdateMessage(ctx, "s1", "m2", "streamed"))
	once, err := s.LoadHistory(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateMessage(ctx, "s1", "m2", "streamed"))
	twice, err := s.LoadHistory(ctx, "s1")
	require.NoError(t, err)

	require.Len(t, once, 2)
	assert.Equal(t, "m1", once[0].ID, "override must keep original position")
	assert.Equal(t, "streamed", once[1].Content)
	assert.Equal(t, once, twice)

	assert.ErrorIs(t, s.UpdateMessage(ctx, "s1", "missing", "x"), store.ErrMessageNotFound)
}

func TestStoreDeleteHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.DeleteHistory(ctx, "empty"))
	got, err := s.LoadHistory(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	ref := chat.SessionRef{ID: "s1"}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendMessage(ctx, ref, chat.Message{ID: fmt.Sprintf("m%d", i), Role: chat.RoleUser, Content: "x"}))
	}
	require.NoError(t, s.DeleteHistory(ctx, "s1"))
	require.NoError(t, s.DeleteHistory(ctx, "s1"))

	got, err = s.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreConcurrentFirstWriteCreatesOneSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref := chat.SessionRef{ID: "shared", EmbedID: "e1", ClientUserID: "u1"}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendMessage(ctx, ref, chat.Message{ID: fmt.Sprintf("m%02d", i), Role: chat.RoleUser, Content: "hello there"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	summaries, err := s.ListSessions(ctx, "e1", "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "shared", summaries[0].SessionID)
	assert.Equal(t, "hello there", summaries[0].FirstMessagePreview)

	history, err := s.LoadHistory(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, history, 16)
}

func TestStoreListSessionsScopesByUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, chat.SessionRef{ID: "s1", EmbedID: "e1", ClientUserID: "u1"},
		chat.Message{ID: "1", Role: chat.RoleUser, Content: "first"}))
	require.NoError(t, s.AppendMessage(ctx, chat.SessionRef{ID: "s1", EmbedID: "e1", ClientUserID: "u1"},
		chat.Message{ID: "2", Role: chat.RoleAssistant, Content: "reply"}))
	require.NoError(t, s.AppendMessage(ctx, chat.SessionRef{ID: "s2", EmbedID: "e1", ClientUserID: "u2"},
		chat.Message{ID: "3", Role: chat.RoleUser, Content: "someone else"}))

	summaries, err := s.ListSessions(ctx, "e1", "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "reply", summaries[0].LastMessage)
	assert.Equal(t, chat.RoleAssistant, summaries[0].LastMessageSender)
}

func TestStoreSaveLeadOncePerMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	signal := lead.Signal{SessionID: "s1", MessageID: "m1", Name: "Jane Doe", Email: "jane@example.com"}

	require.NoError(t, s.SaveLead(ctx, signal))
	assert.ErrorIs(t, s.SaveLead(ctx, signal), store.ErrLeadExists)

	got, found, err := s.Lead("m1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Jane Doe", got.Name)
}
