package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsync/internal/models"
)

func logEntry(id, from, to string, at time.Duration) *models.Message {
	return &models.Message{
		ID:              id,
		ConversationKey: models.ConversationKey(from, to),
		SenderID:        from,
		ReceiverID:      to,
		Content:         id,
		CreatedAt:       t0.Add(at),
	}
}

func TestAggregate_OneSummaryPerPartner(t *testing.T) {
	// most recent first
	log := []*models.Message{
		logEntry("m9", "carol", "alice", 9*time.Minute),
		logEntry("m8", "alice", "bob", 8*time.Minute),
		logEntry("m7", "alice", "carol", 7*time.Minute),
		logEntry("m6", "dave", "alice", 6*time.Minute),
		logEntry("m5", "bob", "alice", 5*time.Minute),
		logEntry("m4", "alice", "dave", 4*time.Minute),
		logEntry("m3", "carol", "alice", 3*time.Minute),
	}

	got := Aggregate(log, "alice")
	require.Len(t, got, 3)

	assert.Equal(t, "carol", got[0].PartnerID)
	assert.Equal(t, "m9", got[0].LastMessage.ID)
	assert.Equal(t, t0.Add(9*time.Minute), got[0].LastMessageAt)

	assert.Equal(t, "bob", got[1].PartnerID)
	assert.Equal(t, "m8", got[1].LastMessage.ID)

	assert.Equal(t, "dave", got[2].PartnerID)
	assert.Equal(t, "m6", got[2].LastMessage.ID)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, "alice"))
	assert.Empty(t, Aggregate([]*models.Message{nil}, "alice"))
}
