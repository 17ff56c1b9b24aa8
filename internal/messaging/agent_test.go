package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		input string
		want  Topic
		ok    bool
	}{
		{"give me a caption idea", TopicCaption, true},
		{"Which HASHTAGS should I use?", TopicHashtag, true},
		{"how do I get more followers", TopicGrowth, true},
		{"I need some inspiration", TopicContentIdea, true},
		{"good morning", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := Classify(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAgent_ReplyComesFromTopicPool(t *testing.T) {
	a := NewAgent("assistant", 7)
	for range 20 {
		assert.Contains(t, TopicResponses(TopicCaption), a.Reply("give me a caption idea"))
	}
	assert.Equal(t, FallbackReply(), a.Reply("hello there"))
}

func TestAgent_SameSeedSameReplies(t *testing.T) {
	a := NewAgent("assistant", 42)
	b := NewAgent("assistant", 42)
	for _, in := range []string{"caption please", "growth tips", "hashtags", "post ideas", "caption again"} {
		assert.Equal(t, a.Reply(in), b.Reply(in))
	}
}

func TestTopicResponsesIsACopy(t *testing.T) {
	pool := TopicResponses(TopicGrowth)
	pool[0] = "changed"
	assert.NotEqual(t, "changed", TopicResponses(TopicGrowth)[0])
	assert.Nil(t, TopicResponses("unknown"))
}
