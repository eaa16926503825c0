package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded schema migrations
// 埋め込みスキーマのマイグレーションを適用
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator creates a migrator bound to an open database
// 接続済みデータベースに対するマイグレーターを作成
func NewMigrator(db *sql.DB, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("マイグレーションソースの読み込みに失敗しました: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("マイグレーションドライバーの作成に失敗しました: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションインスタンスの作成に失敗しました: %w", err)
	}

	return &Migrator{migrate: m, logger: logger}, nil
}

// Up runs all pending migrations
// 未適用のマイグレーションを全て実行
func (m *Migrator) Up() error {
	m.logger.Info("マイグレーションを適用中")

	err := m.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("適用するマイグレーションはありません")
		return nil
	}
	if err != nil {
		return fmt.Errorf("マイグレーション適用に失敗しました: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("マイグレーションが完了しました",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Down rolls back all migrations
// 全てのマイグレーションをロールバック
func (m *Migrator) Down() error {
	m.logger.Info("マイグレーションをロールバック中")

	err := m.migrate.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("ロールバックするマイグレーションはありません")
		return nil
	}
	if err != nil {
		return fmt.Errorf("マイグレーションのロールバックに失敗しました: %w", err)
	}
	return nil
}

// Steps applies n migrations (negative n rolls back)
func (m *Migrator) Steps(n int) error {
	m.logger.Info("マイグレーションをステップ実行中", zap.Int("steps", n))

	err := m.migrate.Steps(n)
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("マイグレーションのステップ実行に失敗しました: %w", err)
	}
	return nil
}

// Version returns the current schema version; 0 means no migration applied
// 現在のスキーマバージョンを取得
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("マイグレーションバージョンの取得に失敗しました: %w", err)
	}
	return version, dirty, nil
}

// Force sets the version without running migrations, clearing the dirty flag
// マイグレーションを実行せずにバージョンを設定
func (m *Migrator) Force(version int) error {
	m.logger.Warn("マイグレーションバージョンを強制設定します", zap.Int("version", version))

	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("バージョン %d の強制設定に失敗しました: %w", version, err)
	}
	return nil
}

// Close releases the migration source and database driver.
// The driver also closes the *sql.DB given to NewMigrator.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("マイグレーションソースのクローズに失敗しました: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("データベースドライバーのクローズに失敗しました: %w", dbErr)
	}
	return nil
}
