package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	redisDriver "github.com/redis/go-redis/v9"

	"dmsync/internal/auth"
	"dmsync/internal/broadcast"
	"dmsync/internal/config"
	"dmsync/internal/handlers/chatserver"
	"dmsync/internal/imtypes"
	appKafka "dmsync/internal/kafka"
	kafkahandlers "dmsync/internal/kafka/handlers"
	"dmsync/internal/logging"
	appRedis "dmsync/internal/redis"
	"dmsync/internal/services"
	"dmsync/internal/storage"
	"dmsync/internal/websocket"
)

// fanoutChannel 是会话订阅所用的广播通道，同时接受消息发布和 Kafka 转发的事件。
type fanoutChannel interface {
	broadcast.Channel
	broadcast.Publisher
	Publish(ev *imtypes.ChannelEvent) bool
}

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig(os.Getenv("DMSYNC_CONFIG"))
	if err != nil {
		slog.Error("无法加载配置", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("app", cfg.AppName, "server", "chat")

	if err := run(cfg, logger); err != nil {
		logger.Error("Chat 服务器异常退出", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	// 2. 存储
	repos, err := openRepositories(cfg, logger)
	if err != nil {
		return err
	}

	// 3. Redis：令牌黑名单，以及 redis 广播后端
	var redisClient *redisDriver.Client
	var blacklist auth.TokenBlacklist
	client := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		if cfg.Broadcast.Backend == "redis" {
			return fmt.Errorf("无法连接到 Redis: %w", err)
		}
		logger.Warn("Redis 不可用，跳过令牌黑名单检查", "addr", cfg.Redis.Addr, "error", err)
	} else {
		redisClient = client
		defer redisClient.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
	}

	// 4. 广播通道
	var channel fanoutChannel
	switch cfg.Broadcast.Backend {
	case "redis":
		rc := appRedis.NewChannel(redisClient, cfg.Broadcast.ChannelPrefix, logger)
		defer rc.Close()
		channel = rc
	case "memory":
		hub := broadcast.NewHub(logger)
		go hub.Run()
		defer hub.Stop()
		channel = hub
	default:
		return fmt.Errorf("不支持的广播后端: %s", cfg.Broadcast.Backend)
	}

	// 5. 消息发布：直接写入广播通道，或经 Kafka 绕行
	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()
	var consumers sync.WaitGroup

	var publisher broadcast.Publisher = channel
	if cfg.Broadcast.MessageFanout == "kafka" {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, logger)
		if err != nil {
			return fmt.Errorf("无法创建 Kafka 生产者: %w", err)
		}
		defer producer.Close()
		publisher = services.NewKafkaEventPublisher(producer, cfg.Kafka.MessageEventsTopic)

		consumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, logger)
		if err != nil {
			return fmt.Errorf("无法创建 Kafka 消费者: %w", err)
		}
		defer consumer.Close()

		eventHandler := kafkahandlers.NewMessageEventHandler(channel, logger)
		groupID := eventsGroupID(cfg)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			topics := []string{cfg.Kafka.MessageEventsTopic}
			if err := consumer.Consume(consumerCtx, topics, groupID, eventHandler.Handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Kafka 消息事件消费者错误", "error", err)
			}
			logger.Info("Kafka 消息事件消费者已停止")
		}()
	}

	messageService := services.NewMessageService(repos.Messages, publisher, cfg.Messaging.HistoryLimit, logger)

	// 6. WebSocket Hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()

	wsHandler := chatserver.NewWebSocketHandler(wsHub, messageService, channel, blacklist, cfg, logger)

	r := mux.NewRouter()
	r.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:           serverAddr,
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Chat HTTP 服务器启动", "addr", serverAddr, "websocket_path", cfg.Server.WebSocketPath,
			"broadcast", cfg.Broadcast.Backend, "fanout", cfg.Broadcast.MessageFanout)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("Chat 服务器启动失败: %w", err)
	}
	logger.Info("Chat 服务器准备关闭...")

	cancelConsumers()
	consumers.Wait()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("Chat 服务器关闭失败: %w", err)
	}
	logger.Info("Chat 服务器已优雅关闭")
	return nil
}

func openRepositories(cfg config.Config, logger *slog.Logger) (storage.Repositories, error) {
	if cfg.Database.Type == "memory" {
		logger.Warn("使用内存存储，重启后数据丢失")
		return storage.NewRepositories(nil), nil
	}
	db, err := storage.InitDB(cfg.Database, cfg.LogLevel)
	if err != nil {
		return storage.Repositories{}, fmt.Errorf("无法初始化数据库: %w", err)
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		return storage.Repositories{}, fmt.Errorf("无法迁移数据库表: %w", err)
	}
	return storage.NewRepositories(db), nil
}

// eventsGroupID 选择消息事件的消费组。内存广播时每个实例都要收到全部事件，
// 所以用独立的组；redis 广播时一个实例转发即可覆盖所有实例。
func eventsGroupID(cfg config.Config) string {
	if cfg.Broadcast.Backend == "redis" {
		return cfg.Kafka.ConsumerGroup
	}
	return cfg.Kafka.ConsumerGroup + "-" + uuid.NewString()
}
