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
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/stockwise/internal/config"
	"github.com/nemonet1337/stockwise/internal/logging"
	"github.com/nemonet1337/stockwise/internal/metrics"
	"github.com/nemonet1337/stockwise/pkg/inventory"
	"github.com/nemonet1337/stockwise/pkg/inventory/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("STOCKWISE_CONFIG"), "設定ファイルのパス")
	migrateOnStart := flag.Bool("migrate", false, "起動時にマイグレーションを適用")
	flag.Parse()

	// 設定読み込み
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// データベース接続
	store, err := storage.NewPostgreSQLStorage(cfg.DSN(), storage.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer store.Close()

	if *migrateOnStart {
		migrator, err := storage.NewMigrator(store.DB(), logger)
		if err != nil {
			logger.Fatal("マイグレーター初期化に失敗しました", zap.Error(err))
		}
		if err := migrator.Up(); err != nil {
			logger.Fatal("マイグレーションに失敗しました", zap.Error(err))
		}
	}

	// 在庫マネージャー初期化
	var opts []inventory.Option
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
		opts = append(opts, inventory.WithMetrics(collector))
	}

	manager := inventory.NewManager(store, nil, logger, &inventory.Config{
		DefaultCountry: cfg.Inventory.DefaultCountry,
		HistoryLimit:   cfg.Inventory.HistoryLimit,
		ExpiryWarning:  cfg.Inventory.ExpiryWarning,
	}, opts...)

	// HTTPハンドラー設定
	handlers := NewHandlers(manager, store, logger)
	router := setupRouter(handlers, cfg, collector)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("在庫管理APIサーバーを開始します", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, cfg *config.Config, collector *metrics.Collector) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if collector != nil {
		router.Handle(cfg.Metrics.Path, collector.Handler()).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// オペレーション
	api.HandleFunc("/operations", handlers.CreateOperation).Methods("POST")
	api.HandleFunc("/operations/{id}", handlers.GetOperation).Methods("GET")
	api.HandleFunc("/operations/{id}", handlers.UpdateOperation).Methods("PATCH")
	api.HandleFunc("/operations/{id}", handlers.RemoveOperation).Methods("DELETE")
	api.HandleFunc("/operations/{id}/lines", handlers.AddLine).Methods("POST")
	api.HandleFunc("/operations/{id}/status", handlers.TransitionStatus).Methods("POST")
	api.HandleFunc("/operations/{id}/boxes", handlers.AddProductToBox).Methods("POST")
	api.HandleFunc("/operations/{id}/summary", handlers.ProductSummary).Methods("GET")

	// 商品
	api.HandleFunc("/products", handlers.CreateProduct).Methods("POST")
	api.HandleFunc("/products/{id}/stock", handlers.GetStock).Methods("GET")
	api.HandleFunc("/products/{id}/recalculate", handlers.RecalculateStock).Methods("POST")

	// ロット
	api.HandleFunc("/lots", handlers.GetOrCreateLot).Methods("POST")
	api.HandleFunc("/lots/expiring", handlers.GetExpiringLots).Methods("GET")
	api.HandleFunc("/lots/{id}", handlers.RenameLot).Methods("PATCH")

	// コンテナ・倉庫・保管位置
	api.HandleFunc("/containers", handlers.CreateContainer).Methods("POST")
	api.HandleFunc("/containers/{id}/position", handlers.PlaceContainer).Methods("PUT")
	api.HandleFunc("/warehouses", handlers.CreateWarehouse).Methods("POST")
	api.HandleFunc("/positions", handlers.CreatePosition).Methods("POST")
	api.HandleFunc("/positions/{id}", handlers.RenamePosition).Methods("PATCH")
	api.HandleFunc("/positions/{id}", handlers.DeletePosition).Methods("DELETE")

	// 履歴
	api.HandleFunc("/history/{entityType}/{entityId}", handlers.GetHistory).Methods("GET")

	if cfg.API.EnableCORS {
		router.Use(corsMiddleware)
	}
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

// corsMiddleware sets permissive CORS headers (development use)
// CORS設定（開発用）
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+userHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
