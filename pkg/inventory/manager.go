package inventory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Manager implements the operation engine on top of a transactional Storage
// トランザクション対応ストレージ上でオペレーションエンジンを実装
type Manager struct {
	storage   Storage          // ストレージ層
	publisher EventPublisher   // イベント発行者
	metrics   Metrics          // メトリクス
	history   *HistoryRecorder // 履歴記録
	logger    *zap.Logger      // ログ
	config    *Config          // 設定
	now       func() time.Time
}

// すべてのインターフェースを実装することを明示
var (
	_ OperationService = (*Manager)(nil)
	_ CatalogService   = (*Manager)(nil)
)

// Config holds configuration for the inventory manager
// 在庫マネージャーの設定を保持
type Config struct {
	DefaultCountry string        `yaml:"default_country"` // 住所の既定国コード
	HistoryLimit   int           `yaml:"history_limit"`   // 履歴取得の既定件数
	ExpiryWarning  time.Duration `yaml:"expiry_warning"`  // 期限間近と判定する期間
}

// Option customizes a Manager
type Option func(*Manager)

// WithMetrics sets the metrics sink
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a new inventory manager
// 新しい在庫マネージャーを作成
func NewManager(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = &Config{
			DefaultCountry: "CZ",
			HistoryLimit:   100,
			ExpiryWarning:  30 * 24 * time.Hour,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		storage:   storage,
		publisher: publisher,
		metrics:   nopMetrics{},
		history:   NewHistoryRecorder(),
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// run executes fn as one atomic unit of work and publishes its events after commit
func (m *Manager) run(ctx context.Context, userID string, fn func(s *session) error) error {
	var s *session
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		s = &session{
			tx:       tx,
			userID:   userID,
			now:      m.now().UTC(),
			recorder: m.history,
		}
		return fn(s)
	})
	if err != nil {
		return err
	}

	for productID, stock := range s.stock {
		m.metrics.StockRecomputed(productID, stock)
	}
	m.publish(ctx, s.events)
	return nil
}

// publish forwards committed events; failures are logged only
func (m *Manager) publish(ctx context.Context, events []Event) {
	if m.publisher == nil || len(events) == 0 {
		return
	}
	if err := m.publisher.Publish(ctx, events); err != nil {
		m.logger.Error("イベント発行に失敗しました", zap.Error(err), zap.Int("count", len(events)))
	}
}

// CreateOperation creates an operation and allocates all its lines atomically
// オペレーションを作成し、全明細をアトミックに割り当て
func (m *Manager) CreateOperation(ctx context.Context, req CreateOperationRequest) (*Operation, error) {
	if err := ValidateCreateRequest(req); err != nil {
		return nil, err
	}

	op := &Operation{
		ID:          NewID(),
		Number:      req.Number,
		Type:        req.Type,
		Status:      StatusCreated,
		ClientID:    req.ClientID,
		Description: req.Description,
		CreatedBy:   req.UserID,
	}
	if req.Type == OperationTypeOut {
		op.Delivery = m.withDefaultCountry(req.Delivery)
		op.Invoice = m.withDefaultCountry(req.Invoice)
	}

	err := m.run(ctx, req.UserID, func(s *session) error {
		op.CreatedAt = s.now
		op.UpdatedAt = s.now
		if err := s.tx.CreateOperation(ctx, op); err != nil {
			return wrapStorage("create_operation", "オペレーション作成に失敗しました", err)
		}
		if err := s.emit(ctx, EntityOperation, op.ID, ActionCreated,
			fmt.Sprintf("%s オペレーション %s を作成しました", op.Type, op.Number)); err != nil {
			return err
		}

		for i, line := range req.Lines {
			if _, err := m.allocate(ctx, s, op, line); err != nil {
				return &LineError{Index: i, ProductID: line.ProductID, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("オペレーション作成に失敗しました",
			zap.String("type", string(req.Type)),
			zap.String("number", req.Number),
			zap.Error(err),
		)
		return nil, err
	}

	m.metrics.OperationCreated(op.Type)
	m.logger.Info("オペレーション作成完了",
		zap.String("operation_id", op.ID),
		zap.String("type", string(op.Type)),
		zap.String("number", op.Number),
		zap.Int("lines", len(req.Lines)),
	)
	return op, nil
}

// AddLine allocates one more line on an operation that is still CREATED
// 作成済み状態のオペレーションに明細を1行追加
func (m *Manager) AddLine(ctx context.Context, operationID string, line OperationLine, userID string) ([]StockGroup, error) {
	var groups []StockGroup
	err := m.run(ctx, userID, func(s *session) error {
		op, err := s.tx.LockOperation(ctx, operationID)
		if err != nil {
			return wrapStorage("lock_operation", "オペレーション取得に失敗しました", err)
		}
		if op.Status != StatusCreated {
			return &StateError{OperationID: op.ID, Status: op.Status, Action: "明細追加"}
		}
		groups, err = m.allocate(ctx, s, op, line)
		return err
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// GetOperation retrieves an operation by ID
// IDでオペレーションを取得
func (m *Manager) GetOperation(ctx context.Context, operationID string) (*Operation, error) {
	var op *Operation
	err := m.run(ctx, "", func(s *session) error {
		var err error
		op, err = s.tx.GetOperation(ctx, operationID)
		return wrapStorage("get_operation", "オペレーション取得に失敗しました", err)
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// GetStock returns the cached stock of a product
// 商品のキャッシュ済み在庫数を取得
func (m *Manager) GetStock(ctx context.Context, productID string) (int64, error) {
	var stock int64
	err := m.run(ctx, "", func(s *session) error {
		p, err := s.tx.GetProduct(ctx, productID)
		if err != nil {
			return wrapStorage("get_product", "商品取得に失敗しました", err)
		}
		stock = p.Stock
		return nil
	})
	return stock, err
}

// RecalculateStock recomputes and stores the stock of one product
// 1商品の在庫数を再計算して保存
func (m *Manager) RecalculateStock(ctx context.Context, productID string) (int64, error) {
	var stock int64
	err := m.run(ctx, "", func(s *session) error {
		if _, err := s.tx.LockProduct(ctx, productID); err != nil {
			return wrapStorage("lock_product", "商品取得に失敗しました", err)
		}
		var err error
		stock, err = recompute(ctx, s, productID)
		return err
	})
	return stock, err
}

// RecalculateAllStock recomputes every product and returns how many were processed
// 全商品の在庫数を再計算
func (m *Manager) RecalculateAllStock(ctx context.Context) (int, error) {
	var count int
	err := m.run(ctx, "", func(s *session) error {
		ids, err := s.tx.ListProductIDs(ctx)
		if err != nil {
			return wrapStorage("list_products", "商品一覧取得に失敗しました", err)
		}
		for _, id := range ids {
			if _, err := s.tx.LockProduct(ctx, id); err != nil {
				return wrapStorage("lock_product", "商品取得に失敗しました", err)
			}
			if _, err := recompute(ctx, s, id); err != nil {
				return err
			}
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	m.logger.Info("在庫再計算完了", zap.Int("products", count))
	return count, nil
}

// GetHistory returns the latest history entries of an entity, newest first
// エンティティの履歴を新しい順に取得
func (m *Manager) GetHistory(ctx context.Context, entity EntityType, entityID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = m.config.HistoryLimit
	}
	var entries []HistoryEntry
	err := m.run(ctx, "", func(s *session) error {
		var err error
		entries, err = s.tx.ListHistory(ctx, entity, entityID, limit)
		return wrapStorage("list_history", "履歴取得に失敗しました", err)
	})
	return entries, err
}

// GetHistoryByDateRange returns history entries of an entity recorded within [from, to]
// 指定期間内の履歴を取得
func (m *Manager) GetHistoryByDateRange(ctx context.Context, entity EntityType, entityID string, from, to time.Time) ([]HistoryEntry, error) {
	if to.Before(from) {
		return nil, NewValidationError("to", "終了日時は開始日時以降である必要があります", to.String())
	}
	var entries []HistoryEntry
	err := m.run(ctx, "", func(s *session) error {
		all, err := s.tx.ListHistory(ctx, entity, entityID, 0)
		if err != nil {
			return wrapStorage("list_history", "履歴取得に失敗しました", err)
		}
		entries = CreatedBetween(all, from, to)
		return nil
	})
	return entries, err
}

func (m *Manager) withDefaultCountry(a *Address) *Address {
	if a == nil {
		return nil
	}
	out := *a
	if out.Country == "" {
		out.Country = m.config.DefaultCountry
	}
	return &out
}
