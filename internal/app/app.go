// Package app はアプリケーションの初期化・ワイヤリング・起動を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/giftgate/internal/accesskey"
	"github.com/hitoshi/giftgate/internal/bot"
	"github.com/hitoshi/giftgate/internal/broadcast"
	"github.com/hitoshi/giftgate/internal/config"
	"github.com/hitoshi/giftgate/internal/database"
	"github.com/hitoshi/giftgate/internal/engine"
	"github.com/hitoshi/giftgate/internal/handler"
	"github.com/hitoshi/giftgate/internal/logger"
	"github.com/hitoshi/giftgate/internal/membership"
	"github.com/hitoshi/giftgate/internal/metrics"
	"github.com/hitoshi/giftgate/internal/middleware"
	"github.com/hitoshi/giftgate/internal/pool"
	"github.com/hitoshi/giftgate/internal/progress"
	"github.com/hitoshi/giftgate/internal/repository"
	"github.com/hitoshi/giftgate/internal/shortener"
	"github.com/hitoshi/giftgate/internal/token"
	"github.com/hitoshi/giftgate/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("flow_mode", string(cfg.FlowMode)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はボットモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、Telegram受信ループと
// 運用HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. Telegram API接続
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram API: %w", err)
	}

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	keyRepo := repository.NewPostgresKeyRepo(db)
	poolRepo := repository.NewPostgresPoolRepo(db)
	deliveryRepo := repository.NewPostgresDeliveryRepo(db)

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービスの初期化
	keyManager := accesskey.NewManager(keyRepo)
	tokenManager := token.NewManager(tokenRepo)
	poolManager := pool.NewManager(poolRepo)
	tracker := progress.NewTracker(userRepo, keyManager)
	oracle := membership.NewTelegramOracle(api)

	transformer := shortener.NewClient(
		shortener.NewSafeClient(cfg.ShortenerTimeout),
		slog.Default(),
		cfg.ShortenerAPIURL,
		cfg.ShortenerAPIKey,
		cfg.ShortenerTimeout,
	)

	eng := engine.New(
		engine.Config{
			Flow:             cfg.FlowMode,
			BotUsername:      cfg.BotUsername,
			RequiredChannels: cfg.RequiredChannels,
			MembershipStrict: cfg.MembershipStrict,
		},
		tracker, tokenManager, keyManager, poolManager,
		deliveryRepo, oracle, transformer, collector,
	)

	broadcaster := broadcast.NewService(userRepo, bot.NewSender(api), collector)

	// 6. レートリミッターの初期化
	limiter := middleware.NewUpdateLimiter(
		middleware.DefaultUpdateLimiterConfig(cfg.RateLimitGeneral),
	)

	// 7. ボットの構築
	tgBot := bot.New(api, eng, poolManager, keyManager, broadcaster, limiter, cfg)

	// 8. 運用HTTPサーバーの構築
	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker: db,
		Gatherer:      registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("ops server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	go limiter.StartCleanup(ctx)

	// トークンクリーンアップジョブを日次でバックグラウンド実行
	cleanupJob := cleanup.NewTokenCleanupJob(tokenRepo, slog.Default(), cfg.TokenRetentionDays)
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// Telegram受信ループをバックグラウンドで起動
	go tgBot.Run(ctx)

	<-stop
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
