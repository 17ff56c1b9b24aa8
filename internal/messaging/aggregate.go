package messaging

import (
	"time"

	"dmsync/internal/models"
)

// ConversationSummary is one row of the conversation index. It is derived and
// can always be recomputed from the message log.
type ConversationSummary struct {
	PartnerID      string                `json:"partnerId"`
	PartnerProfile *models.UserBasicInfo `json:"partnerProfile,omitempty"`
	LastMessage    *models.Message       `json:"lastMessage"`
	LastMessageAt  time.Time             `json:"lastMessageAt"`
}

// Aggregate reduces a most-recent-first message log to one summary per partner,
// keeping the first (most recent) message seen for each. Output follows input order.
func Aggregate(msgs []*models.Message, selfID string) []ConversationSummary {
	seen := make(map[string]struct{})
	out := make([]ConversationSummary, 0)
	for _, m := range msgs {
		if m == nil {
			continue
		}
		partner := m.PartnerOf(selfID)
		if _, ok := seen[partner]; ok {
			continue
		}
		seen[partner] = struct{}{}
		out = append(out, ConversationSummary{
			PartnerID:     partner,
			LastMessage:   m,
			LastMessageAt: m.CreatedAt,
		})
	}
	return out
}
