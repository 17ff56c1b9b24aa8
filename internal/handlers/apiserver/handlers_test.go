package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsync/internal/auth"
	"dmsync/internal/config"
	"dmsync/internal/logging"
	"dmsync/internal/messaging"
	"dmsync/internal/models"
	"dmsync/internal/services"
	"dmsync/internal/storage"
)

type memoryBlacklist struct {
	mu   sync.Mutex
	jtis map[string]time.Time
}

func (b *memoryBlacklist) Add(_ context.Context, jti string, exp time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jtis[jti] = exp
	return nil
}

func (b *memoryBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.jtis[jti]
	return ok, nil
}

type apiFixture struct {
	handler http.Handler
	authCfg config.AuthConfig
	msgs    services.MessageService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := logging.Discard()
	authCfg := config.AuthConfig{JWTSecretKey: "test-secret", JWTExpiry: time.Minute}

	repos := storage.NewRepositories(nil)
	ctx := context.Background()
	require.NoError(t, repos.Users.Create(ctx, &models.User{ID: "alice", Username: "alice", Nickname: "Alice"}))
	require.NoError(t, repos.Users.Create(ctx, &models.User{ID: "bob", Username: "bob", Nickname: "Bob"}))

	msgs := services.NewMessageService(repos.Messages, nil, 100, logger)
	convos := services.NewConversationService(repos.Messages, repos.Users, 100, logger)
	blacklist := &memoryBlacklist{jtis: make(map[string]time.Time)}

	router := NewRouter(authCfg, blacklist,
		NewConversationHandler(convos, msgs, logger),
		NewUserHandler(services.NewUserService(repos.Users), logger),
		NewAuthHandler(blacklist, logger),
	)
	return &apiFixture{handler: router, authCfg: authCfg, msgs: msgs}
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, userID, f.authCfg)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestSendAndListMessages(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/conversations/bob/messages", alice, `{"content":"  hi bob  "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var stored models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "alice:bob", stored.ConversationKey)
	assert.Equal(t, "hi bob", stored.Content)

	// bob reads the same conversation from his side
	rec = f.do(t, http.MethodGet, "/api/v1/conversations/alice/messages", f.token(t, "bob"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, stored.ID, history[0].ID)
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "alice")

	tests := []struct {
		name   string
		path   string
		token  string
		body   string
		status int
	}{
		{"no token", "/api/v1/conversations/bob/messages", "", `{"content":"x"}`, http.StatusUnauthorized},
		{"blank content", "/api/v1/conversations/bob/messages", alice, `{"content":"   "}`, http.StatusBadRequest},
		{"bad body", "/api/v1/conversations/bob/messages", alice, `{`, http.StatusBadRequest},
		{"self conversation", "/api/v1/conversations/alice/messages", alice, `{"content":"x"}`, http.StatusBadRequest},
		{"separator in partner id", "/api/v1/conversations/b:c/messages", alice, `{"content":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestGetMessages_EmptyConversationIsEmptyArray(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/conversations/bob/messages", f.token(t, "alice"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListConversations(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	for _, in := range []models.NewMessage{
		{ConversationKey: "alice:bob", SenderID: "alice", ReceiverID: "bob", Content: "one"},
		{ConversationKey: "alice:carol", SenderID: "carol", ReceiverID: "alice", Content: "two"},
		{ConversationKey: "alice:bob", SenderID: "bob", ReceiverID: "alice", Content: "three"},
	} {
		_, err := f.msgs.CreateMessage(ctx, in)
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/conversations", f.token(t, "alice"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []messaging.ConversationSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "bob", summaries[0].PartnerID)
	assert.Equal(t, "three", summaries[0].LastMessage.Content)
	require.NotNil(t, summaries[0].PartnerProfile)
	assert.Equal(t, "Bob", summaries[0].PartnerProfile.Nickname)
	assert.Equal(t, "carol", summaries[1].PartnerID)
	assert.Nil(t, summaries[1].PartnerProfile)
}

func TestUserProfiles(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "alice")

	rec := f.do(t, http.MethodGet, "/api/v1/users/me", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.UserBasicInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "Alice", me.Nickname)

	rec = f.do(t, http.MethodGet, "/api/v1/users/bob", alice, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/users/nobody", alice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations", alice, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
