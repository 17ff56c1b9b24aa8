package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationKey_Symmetric(t *testing.T) {
	assert.Equal(t, ConversationKey("alice", "bob"), ConversationKey("bob", "alice"))
	assert.Equal(t, "alice:bob", ConversationKey("bob", "alice"))
	assert.NotEqual(t, ConversationKey("alice", "bob"), ConversationKey("alice", "carol"))
}

func TestParticipantsOf(t *testing.T) {
	a, b, ok := ParticipantsOf(ConversationKey("u2", "u1"))
	assert.True(t, ok)
	assert.Equal(t, "u1", a)
	assert.Equal(t, "u2", b)

	_, _, ok = ParticipantsOf("no-separator")
	assert.False(t, ok)
	_, _, ok = ParticipantsOf(":u1")
	assert.False(t, ok)
}

func TestIsLocalID(t *testing.T) {
	assert.True(t, IsLocalID(LocalIDPrefix+"123"))
	assert.False(t, IsLocalID("8f14e45f-ceea-4e7a-9f0b-1a2b3c4d5e6f"))
}

func TestMessage_PartnerOf(t *testing.T) {
	m := &Message{SenderID: "me", ReceiverID: "you"}
	assert.Equal(t, "you", m.PartnerOf("me"))
	assert.Equal(t, "me", m.PartnerOf("you"))
}

func TestMessage_CloneDetachesReactions(t *testing.T) {
	m := &Message{ID: "m1", Reactions: Reactions{"❤️": {"u1"}}}
	c := m.Clone()
	c.Reactions["❤️"][0] = "u2"
	assert.Equal(t, "u1", m.Reactions["❤️"][0])
}

func TestValidParticipantID(t *testing.T) {
	assert.True(t, ValidParticipantID("alice"))
	assert.True(t, ValidParticipantID("8f14e45f-ceea-4e7a-9f0b-1a2b3c4d5e6f"))
	assert.False(t, ValidParticipantID(""))
	assert.False(t, ValidParticipantID("b:c"))
}
