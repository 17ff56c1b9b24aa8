package messaging

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// Topic is a reply category of the scripted agent.
type Topic string

const (
	TopicCaption     Topic = "caption"
	TopicHashtag     Topic = "hashtag"
	TopicGrowth      Topic = "growth"
	TopicContentIdea Topic = "content_idea"
)

type topicRule struct {
	topic     Topic
	keywords  []string
	responses []string
}

// topicRules are checked in order; the first rule with a matching keyword wins.
var topicRules = []topicRule{
	{
		topic:    TopicCaption,
		keywords: []string{"caption", "captions", "bio", "write something"},
		responses: []string{
			"Try this one: \"Chasing light and good vibes ✨\" Short, warm and easy to pair with almost any photo.",
			"Caption idea: \"Not perfect, just present.\" Add one emoji that matches the mood of the shot.",
			"How about \"Currently: collecting moments, not things 📸\"? Ask a question at the end to invite comments.",
			"Keep it personal: describe what happened right before you took the photo in one sentence.",
		},
	},
	{
		topic:    TopicHashtag,
		keywords: []string{"hashtag", "hashtags", "#", "tags"},
		responses: []string{
			"Mix 3 broad tags (#photography), 5 niche tags (#streetphotographyberlin) and 2 branded tags of your own.",
			"Stay between 5 and 15 hashtags and rotate them; posting the same block every time can limit reach.",
			"Search each hashtag before using it. Tags with 10k-500k posts give you the best chance to be seen.",
		},
	},
	{
		topic:    TopicGrowth,
		keywords: []string{"grow", "growth", "followers", "engagement", "reach", "algorithm", "tip"},
		responses: []string{
			"Consistency beats volume: pick a schedule you can keep, like 3 posts a week, and stick to it.",
			"Reply to every comment in the first hour after posting. Early engagement helps your post travel.",
			"Reels get the most reach right now. Repurpose your best photo posts into short 7-10 second clips.",
			"Collaborate with an account your size in your niche. A joint post exposes you to a warm audience.",
		},
	},
	{
		topic:    TopicContentIdea,
		keywords: []string{"idea", "ideas", "content", "post about", "what should i post", "inspiration"},
		responses: []string{
			"Do a \"day in my life\" carousel: 6-8 photos from morning to night with a one-line story each.",
			"Share a before/after. People love seeing a process, whether it's a room, a recipe or an edit.",
			"Post a \"3 things I wish I knew\" list about your hobby. Save-worthy posts keep circulating.",
			"Run a this-or-that poll in stories, then turn the results into a post.",
		},
	},
}

const fallbackReply = "I can help with captions, hashtags, growth tips and content ideas. What would you like to work on?"

// Classify returns the first topic whose keywords occur in the lowercased input.
func Classify(input string) (Topic, bool) {
	normalized := strings.ToLower(input)
	for _, rule := range topicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return rule.topic, true
			}
		}
	}
	return "", false
}

// TopicResponses returns a copy of the response pool for topic.
func TopicResponses(topic Topic) []string {
	for _, rule := range topicRules {
		if rule.topic == topic {
			return append([]string(nil), rule.responses...)
		}
	}
	return nil
}

// FallbackReply is the reply used when no topic matches.
func FallbackReply() string { return fallbackReply }

// Agent is the scripted stand-in participant. Replies depend only on the input
// and the seeded random source, never on the store or the channel.
type Agent struct {
	id string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAgent returns an agent answering as id. Equal seeds produce equal reply sequences.
func NewAgent(id string, seed uint64) *Agent {
	return &Agent{id: id, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// ID returns the reserved identity the agent speaks as.
func (a *Agent) ID() string { return a.id }

// Reply picks the response for input.
func (a *Agent) Reply(input string) string {
	topic, ok := Classify(input)
	if !ok {
		return fallbackReply
	}
	pool := TopicResponses(topic)
	a.mu.Lock()
	i := a.rng.IntN(len(pool))
	a.mu.Unlock()
	return pool[i]
}
