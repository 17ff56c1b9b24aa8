package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dmsync/internal/config"
	"dmsync/internal/logging"
)

func TestTimingsFrom(t *testing.T) {
	got := timingsFrom(config.WebSocketConfig{WriteWaitSeconds: 5, PongWaitSeconds: 30, PingPeriodSeconds: 20, MaxMessageSizeBytes: 1024})
	assert.Equal(t, 5*time.Second, got.writeWait)
	assert.Equal(t, 30*time.Second, got.pongWait)
	assert.Equal(t, 20*time.Second, got.pingPeriod)
	assert.Equal(t, int64(1024), got.maxMessage)

	// zero values and a ping period not below the pong wait fall back
	got = timingsFrom(config.WebSocketConfig{PongWaitSeconds: 10, PingPeriodSeconds: 10})
	assert.Equal(t, defaultWriteWait, got.writeWait)
	assert.Equal(t, 9*time.Second, got.pingPeriod)
	assert.Equal(t, int64(defaultMaxMessage), got.maxMessage)
}

func TestHub_ClientCountAfterStop(t *testing.T) {
	h := NewHub(logging.Discard())
	go h.Run()
	assert.Equal(t, 0, h.ClientCount())
	h.Stop()
	assert.Equal(t, 0, h.ClientCount())
}
