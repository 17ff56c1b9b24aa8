package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	redisDriver "github.com/redis/go-redis/v9"

	"dmsync/internal/broadcast"
	"dmsync/internal/config"
	"dmsync/internal/handlers/apiserver"
	appKafka "dmsync/internal/kafka"
	"dmsync/internal/logging"
	appRedis "dmsync/internal/redis"
	"dmsync/internal/services"
	"dmsync/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig(os.Getenv("DMSYNC_CONFIG"))
	if err != nil {
		slog.Error("无法加载配置", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("app", cfg.AppName, "server", "api")

	if err := run(cfg, logger); err != nil {
		logger.Error("API 服务器异常退出", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	// 2. 存储
	var repos storage.Repositories
	if cfg.Database.Type == "memory" {
		logger.Warn("使用内存存储，聊天服务器无法看到这里写入的消息")
		repos = storage.NewRepositories(nil)
	} else {
		db, err := storage.InitDB(cfg.Database, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("无法初始化数据库: %w", err)
		}
		if err := storage.AutoMigrateTables(db); err != nil {
			logger.Warn("API 服务器数据库表迁移可能失败", "error", err)
		}
		repos = storage.NewRepositories(db)
	}

	// 3. Redis：令牌黑名单
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("无法连接到 Redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("成功连接到 Redis", "addr", cfg.Redis.Addr)
	tokenBlacklist := appRedis.NewRedisTokenBlacklist(redisClient)

	// 4. REST 写入的消息同样需要推送给在线的会话
	var publisher broadcast.Publisher
	switch {
	case cfg.Broadcast.MessageFanout == "kafka":
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, logger)
		if err != nil {
			return fmt.Errorf("无法创建 Kafka 生产者: %w", err)
		}
		defer producer.Close()
		publisher = services.NewKafkaEventPublisher(producer, cfg.Kafka.MessageEventsTopic)
	case cfg.Broadcast.Backend == "redis":
		rc := appRedis.NewChannel(redisClient, cfg.Broadcast.ChannelPrefix, logger)
		defer rc.Close()
		publisher = rc
	default:
		logger.Warn("内存广播只在进程内生效，REST 写入的消息不会实时推送")
	}

	// 5. Services 与 Handlers
	messageService := services.NewMessageService(repos.Messages, publisher, cfg.Messaging.HistoryLimit, logger)
	conversationService := services.NewConversationService(repos.Messages, repos.Users, cfg.Messaging.RecentLimit, logger)
	userService := services.NewUserService(repos.Users)

	r := apiserver.NewRouter(cfg.Auth, tokenBlacklist,
		apiserver.NewConversationHandler(conversationService, messageService, logger),
		apiserver.NewUserHandler(userService, logger),
		apiserver.NewAuthHandler(tokenBlacklist, logger),
	)

	// 6. CORS 与访问日志
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	handler := handlers.LoggingHandler(os.Stdout, handlers.CORS(corsOptions...)(r))

	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("API 服务器启动", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("API 服务器启动失败: %w", err)
	}
	logger.Info("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("API 服务器强制关闭: %w", err)
	}
	logger.Info("API 服务器已成功关闭")
	return nil
}
