package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/stockwise/internal/config"
	"github.com/nemonet1337/stockwise/internal/logging"
	"github.com/nemonet1337/stockwise/pkg/inventory"
	"github.com/nemonet1337/stockwise/pkg/inventory/storage"
)

const usage = `使い方: migrate [-config path] <command> [arg]

コマンド:
  up            未適用のマイグレーションを全て適用
  down          全てのマイグレーションをロールバック
  steps N       N ステップ適用（負数でロールバック）
  version       現在のスキーマバージョンを表示
  force V       バージョンを強制設定（dirty状態の解除）
  recalculate   全商品の在庫数を再計算
`

func main() {
	configPath := flag.String("config", os.Getenv("STOCKWISE_CONFIG"), "設定ファイルのパス")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	// 設定読み込み
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	logger.Info("データベースに接続中",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("dbname", cfg.Database.DBName),
	)

	store, err := storage.NewPostgreSQLStorage(cfg.DSN(), storage.PoolConfig{}, logger)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer store.Close()

	if err := run(store, cfg, logger, flag.Args()); err != nil {
		logger.Fatal("コマンド実行に失敗しました", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
}

func run(store *storage.PostgreSQLStorage, cfg *config.Config, logger *zap.Logger, args []string) error {
	if args[0] == "recalculate" {
		return recalculate(store, cfg, logger)
	}

	migrator, err := storage.NewMigrator(store.DB(), logger)
	if err != nil {
		return err
	}
	defer migrator.Close()

	switch args[0] {
	case "up":
		return migrator.Up()
	case "down":
		return migrator.Down()
	case "steps":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return migrator.Steps(n)
	case "force":
		v, err := intArg(args)
		if err != nil {
			return err
		}
		return migrator.Force(v)
	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("不明なコマンド: %s", args[0])
	}
}

func recalculate(store inventory.Storage, cfg *config.Config, logger *zap.Logger) error {
	manager := inventory.NewManager(store, nil, logger, &inventory.Config{
		DefaultCountry: cfg.Inventory.DefaultCountry,
		HistoryLimit:   cfg.Inventory.HistoryLimit,
		ExpiryWarning:  cfg.Inventory.ExpiryWarning,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	n, err := manager.RecalculateAllStock(ctx)
	if err != nil {
		return err
	}
	logger.Info("在庫数の再計算が完了しました", zap.Int("products", n))
	return nil
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s には数値の引数が必要です", args[0])
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("無効な数値: %s", args[1])
	}
	return n, nil
}
