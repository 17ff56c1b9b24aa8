package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"dmsync/internal/auth"
	"dmsync/internal/config"
	"dmsync/internal/middleware"
)

// NewRouter 组装 API 路由。/api/v1 下的所有路由都需要认证。
func NewRouter(authCfg config.AuthConfig, blacklist auth.TokenBlacklist, convoHandler *ConversationHandler, userHandler *UserHandler, authHandler *AuthHandler) *mux.Router {
	r := mux.NewRouter()

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.AuthMiddleware(authCfg, blacklist))

	// 登出需要认证来获取 JTI
	apiRouter.HandleFunc("/auth/logout", authHandler.LogoutHandler).Methods(http.MethodPost)

	apiRouter.HandleFunc("/users/me", userHandler.GetMyProfileHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/{userID}", userHandler.GetUserProfileHandler).Methods(http.MethodGet)

	convoHandler.RegisterRoutes(apiRouter)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}
