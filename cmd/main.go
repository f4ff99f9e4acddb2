package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/PulseChat/config"
	"github.com/Gopher0727/PulseChat/internal/api"
	"github.com/Gopher0727/PulseChat/internal/handler"
	"github.com/Gopher0727/PulseChat/internal/pkg/gateway"
	pcgrpc "github.com/Gopher0727/PulseChat/internal/pkg/grpc"
	"github.com/Gopher0727/PulseChat/internal/pkg/imagehost"
	"github.com/Gopher0727/PulseChat/internal/pkg/kafka"
	"github.com/Gopher0727/PulseChat/internal/pkg/presence"
	"github.com/Gopher0727/PulseChat/internal/pkg/redis"
	"github.com/Gopher0727/PulseChat/internal/repository"
	"github.com/Gopher0727/PulseChat/internal/service"
	"github.com/Gopher0727/PulseChat/middleware/jwt"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
	"github.com/Gopher0727/PulseChat/utils/ratelimit"
	"github.com/Gopher0727/PulseChat/utils/snowflake"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer appLogger.Close()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := repository.Open(cfg, appLogger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// 初始化 Redis（可选）
	var (
		mirror  redis.RedisClient
		limiter ratelimit.Limiter
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		mirror = redisClient
		limiter = ratelimit.NewWindowLimiter(redisClient.GetClient(), appLogger.Named("ratelimit").Logger, true)
	} else {
		appLogger.Info("redis disabled: no presence mirror, user cache or rate limiting")
	}

	gen, err := snowflake.NewGenerator(snowflake.Config{WorkerID: cfg.Snowflake.WorkerID})
	if err != nil {
		return fmt.Errorf("failed to create snowflake generator: %w", err)
	}
	tokenManager := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.RefreshHours)
	uploader, err := imagehost.New(&cfg.ImageHost)
	if err != nil {
		return fmt.Errorf("failed to configure image host: %w", err)
	}

	hub := gateway.NewHub(ctx, gateway.OptionsFromConfig(cfg), presence.NewRegistry(), mirror, tokenManager, appLogger)

	// 消息投递：默认进程内直推；启用 Kafka 时经队列投递到每个节点
	var notifier service.MessageNotifier = hub
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		notifier, consumer, err = setupKafka(ctx, cfg, hub, appLogger)
		if err != nil {
			appLogger.Warn("kafka unavailable, delivering in-process", zap.Error(err))
			notifier = hub
		}
	}

	userRepo := repository.NewUserRepository(db, mirror, appLogger)
	messageRepo := repository.NewMessageRepository(db)
	authService := service.NewAuthService(userRepo, tokenManager, uploader, appLogger)
	messageService := service.NewMessageService(messageRepo, userRepo, gen, uploader, notifier, appLogger)

	cookie := handler.CookieOptions{Name: cfg.JWT.CookieName, Secure: cfg.Server.CookieSecure}
	mw := api.NewMiddlewareManager(tokenManager, cookie, limiter, &cfg.RateLimit, cfg.CORS.AllowedOrigins, appLogger)
	router := api.NewRouter(cfg.Server.Mode, mw,
		handler.NewAuthHandler(authService, tokenManager, cookie, appLogger),
		handler.NewMessageHandler(messageService, appLogger),
		hub,
	)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		appLogger.Info("正在启动服务器", zap.String("addr", srv.Addr), zap.String("node_id", cfg.Server.NodeID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *pcgrpc.Server
	if cfg.GRPC.Address != "" {
		grpcServer, err = pcgrpc.NewServer(cfg.GRPC.Address, appLogger)
		if err != nil {
			return err
		}
		pcgrpc.RegisterPresenceServer(grpcServer.GetServer(), pcgrpc.NewPresenceServer(hub))
		go func() {
			if err := grpcServer.Start(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		appLogger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	// 优雅关闭：先停止接收新请求，再断开长连接，最后停止消费
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("gateway shutdown incomplete", zap.Error(err))
	}
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			appLogger.Warn("kafka consumer stop failed", zap.Error(err))
		}
	}
	if closer, ok := notifier.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return runErr
}

// setupKafka wires the publish side and this node's delivery consumer.
func setupKafka(ctx context.Context, cfg *config.Config, hub *gateway.Hub, appLogger *logger.Logger) (service.MessageNotifier, *kafka.Consumer, error) {
	producer, err := kafka.NewProducer(&cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	groupID := kafka.GroupID(cfg.Kafka.ConsumerGroup, cfg.Server.NodeID)
	consumer, err := kafka.NewConsumer(&cfg.Kafka, groupID, []string{cfg.Kafka.Topics.Message}, kafka.DeliveryHandler(hub), producer, appLogger)
	if err != nil {
		_ = producer.Close()
		return nil, nil, err
	}
	consumer.Start(ctx)

	notifier := kafka.NewNotifier(producer, cfg.Kafka.Topics.Message, cfg.Server.NodeID, appLogger)
	appLogger.Info("kafka delivery enabled",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topics.Message),
		zap.String("group", groupID),
	)
	return notifier, consumer, nil
}
