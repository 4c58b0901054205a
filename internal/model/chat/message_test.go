package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMessageJSONOmitsUnsetUpdatedAt(t *testing.T) {
	msg := Message{ID: "m1", Role: RoleUser, Content: "hi", CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	if strings.Contains(string(data), "updatedAt") {
		t.Fatalf("fresh message should not carry updatedAt: %s", data)
	}

	edited := time.Now().UTC()
	msg.UpdatedAt = &edited
	data, err = json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	if !strings.Contains(string(data), `"updatedAt"`) {
		t.Fatalf("corrected message should carry updatedAt: %s", data)
	}
}

func TestSummarizeUsesLatestCorrectionTime(t *testing.T) {
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	corrected := created.Add(time.Minute)
	history := []Message{
		{ID: "1", Role: RoleUser, Content: "q", CreatedAt: created},
		{ID: "2", Role: RoleAssistant, Content: "a", CreatedAt: created, UpdatedAt: &corrected},
	}
	summary, ok := Summarize(Session{ID: "s1"}, history)
	if !ok {
		t.Fatal("expected summary")
	}
	if !summary.LastInteractionAt.Equal(corrected) {
		t.Fatalf("expected last interaction at correction time, got %v", summary.LastInteractionAt)
	}
}
