package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsync/internal/config"
)

func TestConfigMaps(t *testing.T) {
	cfg := config.KafkaConfig{
		Brokers:  []string{"k1:9092", "k2:9092"},
		ClientID: "dm-sync-client",
		Protocol: "plaintext",
	}

	p := producerConfigMap(cfg)
	servers, err := p.Get("bootstrap.servers", nil)
	require.NoError(t, err)
	assert.Equal(t, "k1:9092,k2:9092", servers)
	clientID, err := p.Get("client.id", nil)
	require.NoError(t, err)
	assert.Equal(t, "dm-sync-client", clientID)

	c := consumerConfigMap(cfg, "dm-chat-server-group")
	group, err := c.Get("group.id", nil)
	require.NoError(t, err)
	assert.Equal(t, "dm-chat-server-group", group)
	commit, err := c.Get("enable.auto.commit", nil)
	require.NoError(t, err)
	assert.Equal(t, "false", commit)
}
