package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/lead"
	chatsvc "github.com/zhouzirui/embedchat/backend/internal/service/chat"
	"github.com/zhouzirui/embedchat/backend/internal/store"
)

func TestServiceRoundTrip(t *testing.T) {
	svc := chatsvc.NewService()
	ctx := context.Background()
	ref := chat.SessionRef{ID: "s1", EmbedID: "e1", ClientUserID: "u1"}

	written := []chat.Message{
		{ID: "m1", Role: chat.RoleUser, Content: "hi"},
		{ID: "m2", Role: chat.RoleAssistant, Content: "hello"},
	}
	for _, msg := range written {
		if err := svc.AppendMessage(ctx, ref, msg); err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}
	}

	got, err := svc.LoadHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadHistory err: %v", err)
	}
	if len(got) != len(written) {
		t.Fatalf("unexpected history length: %d", len(got))
	}
	for i := range written {
		if !got[i].Same(written[i]) {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, got[i], written[i])
		}
	}
}

func TestServiceAppendOverridesByID(t *testing.T) {
	svc := chatsvc.NewService()
	ctx := context.Background()
	ref := chat.SessionRef{ID: "s1"}

	_ = svc.AppendMessage(ctx, ref, chat.Message{ID: "m1", Role: chat.RoleAssistant, Content: "draft"})
	_ = svc.AppendMessage(ctx, ref, chat.Message{ID: "m1", Role: chat.RoleAssistant, Content: "final"})

	got, _ := svc.LoadHistory(ctx, "s1")
	if len(got) != 1 || got[0].Content != "final" {
		t.Fatalf("expected a single overridden message, got %+v", got)
	}
}

func TestServiceUpdateMessageIsIdempotent(t *testing.T) {
	svc := chatsvc.NewService()
	ctx := context.Background()
	ref := chat.SessionRef{ID: "s1"}
	_ = svc.AppendMessage(ctx, ref, chat.Message{ID: "m1", Role: chat.RoleAssistant, Content: "captured"})

	if err := svc.UpdateMessage(ctx, "s1", "m1", "streamed"); err != nil {
		t.Fatalf("UpdateMessage err: %v", err)
	}
	once, _ := svc.LoadHistory(ctx, "s1")

	if err := svc.UpdateMessage(ctx, "s1", "m1", "streamed"); err != nil {
		t.Fatalf("second UpdateMessage err: %v", err)
	}
	twice, _ := svc.LoadHistory(ctx, "s1")

	if once[0] != twice[0] {
		t.Fatalf("repeated correction changed state: %+v vs %+v", once[0], twice[0])
	}
	if err := svc.UpdateMessage(ctx, "s1", "missing", "x"); !errors.Is(err, store.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestServiceDeleteEmptySession(t *testing.T) {
	svc := chatsvc.NewService()
	ctx := context.Background()

	if err := svc.DeleteHistory(ctx, "never-used"); err != nil {
		t.Fatalf("DeleteHistory err: %v", err)
	}
	got, err := svc.LoadHistory(ctx, "never-used")
	if err != nil {
		t.Fatalf("LoadHistory err: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no messages, got %d", len(got))
	}
}

func TestServiceRequiresSession(t *testing.T) {
	svc := chatsvc.NewService()
	err := svc.AppendMessage(context.Background(), chat.SessionRef{}, chat.Message{Content: "x"})
	if !errors.Is(err, chat.ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
}

func TestServiceListSessions(t *testing.T) {
	svc := chatsvc.NewService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := chat.SessionRef{ID: "shared", EmbedID: "e1", ClientUserID: "u1"}
			_ = svc.AppendMessage(ctx, ref, chat.Message{ID: fmt.Sprintf("m%d", i), Role: chat.RoleUser, Content: "hello"})
		}(i)
	}
	wg.Wait()

	_ = svc.AppendMessage(ctx, chat.SessionRef{ID: "other", EmbedID: "e1", ClientUserID: "u2"},
		chat.Message{ID: "x", Role: chat.RoleUser, Content: "not mine"})

	summaries, err := svc.ListSessions(ctx, "e1", "u1", 0, 0)
	if err != nil {
		t.Fatalf("ListSessions err: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("concurrent first writes must create one session, got %d", len(summaries))
	}
	if summaries[0].FirstMessagePreview != "hello" {
		t.Fatalf("unexpected preview: %q", summaries[0].FirstMessagePreview)
	}
}

func TestServiceSaveLeadSuppressesDuplicates(t *testing.T) {
	svc := chatsvc.NewService()
	ctx := context.Background()
	signal := lead.Signal{SessionID: "s1", MessageID: "m1", Email: "jane@example.com"}

	if err := svc.SaveLead(ctx, signal); err != nil {
		t.Fatalf("SaveLead err: %v", err)
	}
	if err := svc.SaveLead(ctx, signal); !errors.Is(err, store.ErrLeadExists) {
		t.Fatalf("expected ErrLeadExists, got %v", err)
	}
	if n := len(svc.Leads("s1")); n != 1 {
		t.Fatalf("expected one lead, got %d", n)
	}
}
