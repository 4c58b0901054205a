package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
)

func TestClampPage(t *testing.T) {
	limit, offset := ClampPage(0, -3)
	assert.Equal(t, DefaultListLimit, limit)
	assert.Equal(t, 0, offset)

	limit, _ = ClampPage(500, 0)
	assert.Equal(t, MaxListLimit, limit)
}

func TestPageSummariesOrdersMostRecentFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	summaries := make([]chat.Summary, 0, 5)
	for i := 0; i < 5; i++ {
		summaries = append(summaries, chat.Summary{
			SessionID:         fmt.Sprintf("s%d", i),
			LastInteractionAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	page := PageSummaries(summaries, 2, 1)
	assert.Len(t, page, 2)
	assert.Equal(t, "s3", page[0].SessionID)
	assert.Equal(t, "s2", page[1].SessionID)

	assert.Empty(t, PageSummaries(summaries, 2, 10))
}
