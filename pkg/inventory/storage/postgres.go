package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/stockwise/pkg/inventory"
)

// PostgreSQLStorage implements the Storage interface using PostgreSQL
// PostgreSQLを使用したStorageインターフェースの実装
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ inventory.Storage = (*PostgreSQLStorage)(nil)
	_ inventory.Tx      = (*pgTx)(nil)
)

// PoolConfig holds connection pool limits
// 接続プール設定
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(dsn string, pool PoolConfig, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 25
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 10
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return NewPostgreSQLStorageFromDB(db, logger), nil
}

// NewPostgreSQLStorageFromDB wraps an existing connection pool
// 既存の接続プールをラップ
func NewPostgreSQLStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgreSQLStorage{db: db, logger: logger}
}

// DB exposes the underlying pool (used by migrations)
func (s *PostgreSQLStorage) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a database transaction, committing only when fn succeeds
// fnをトランザクション内で実行し、成功時のみコミット
func (s *PostgreSQLStorage) WithTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.NewStorageError("begin", "トランザクション開始に失敗しました", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("ロールバックに失敗しました", zap.Error(rbErr))
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err, "commit", "")
	}
	return nil
}

// Ping checks database connectivity
// データベース接続を確認
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続をクローズ
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// mapError converts driver errors into inventory errors
func mapError(err error, entity inventory.EntityType, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.NewNotFoundError(entity, id)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", inventory.ErrDuplicateRecord, pqErr.Constraint)
		case "40001", "40P01":
			return inventory.NewConcurrencyError(string(entity), id, pqErr.Message)
		}
	}
	return err
}

type pgTx struct {
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (t *pgTx) exec(ctx context.Context, entity inventory.EntityType, id, query string, args ...interface{}) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, entity, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return inventory.NewNotFoundError(entity, id)
	}
	return nil
}

// Products

const productColumns = `id, sku, name, description, client_id, stock, created_at`

func scanProduct(row rowScanner) (*inventory.Product, error) {
	p := &inventory.Product{}
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.ClientID, &p.Stock, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func (t *pgTx) CreateProduct(ctx context.Context, p *inventory.Product) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.SKU, p.Name, p.Description, p.ClientID, p.Stock, p.CreatedAt)
	return mapError(err, inventory.EntityProduct, p.ID)
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, inventory.EntityProduct, id)
	}
	return p, nil
}

func (t *pgTx) LockProduct(ctx context.Context, id string) (*inventory.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err, inventory.EntityProduct, id)
	}
	return p, nil
}

func (t *pgTx) UpdateProductStock(ctx context.Context, id string, stock int64) error {
	return t.exec(ctx, inventory.EntityProduct, id,
		`UPDATE products SET stock = $2 WHERE id = $1`, id, stock)
}

func (t *pgTx) ListProductIDs(ctx context.Context) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("商品一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("商品IDスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Lots

const lotColumns = `id, product_id, number, expiry_date, created_at`

func scanLot(row rowScanner) (*inventory.Lot, error) {
	l := &inventory.Lot{}
	if err := row.Scan(&l.ID, &l.ProductID, &l.Number, &l.ExpiryDate, &l.CreatedAt); err != nil {
		return nil, err
	}
	return l, nil
}

func (t *pgTx) CreateLot(ctx context.Context, l *inventory.Lot) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO lots (`+lotColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.ProductID, l.Number, l.ExpiryDate, l.CreatedAt)
	return mapError(err, inventory.EntityLot, l.ID)
}

func (t *pgTx) GetLot(ctx context.Context, id string) (*inventory.Lot, error) {
	l, err := scanLot(t.tx.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, inventory.EntityLot, id)
	}
	return l, nil
}

func (t *pgTx) FindLot(ctx context.Context, productID, number string) (*inventory.Lot, error) {
	l, err := scanLot(t.tx.QueryRowContext(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE product_id = $1 AND number = $2`, productID, number))
	if err != nil {
		return nil, mapError(err, inventory.EntityLot, productID+"/"+number)
	}
	return l, nil
}

func (t *pgTx) UpdateLot(ctx context.Context, l *inventory.Lot) error {
	return t.exec(ctx, inventory.EntityLot, l.ID,
		`UPDATE lots SET number = $2, expiry_date = $3 WHERE id = $1`, l.ID, l.Number, l.ExpiryDate)
}

func (t *pgTx) DeleteLot(ctx context.Context, id string) error {
	return t.exec(ctx, inventory.EntityLot, id, `DELETE FROM lots WHERE id = $1`, id)
}

func (t *pgTx) CountGroupsByLot(ctx context.Context, lotID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_groups WHERE lot_id = $1`, lotID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ロット参照数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func (t *pgTx) ListLotsExpiringBefore(ctx context.Context, before time.Time) ([]inventory.Lot, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+lotColumns+` FROM lots
		WHERE expiry_date IS NOT NULL AND expiry_date < $1
		ORDER BY expiry_date, id`, before)
	if err != nil {
		return nil, fmt.Errorf("期限間近ロット取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var lots []inventory.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("ロットスキャンに失敗しました: %w", err)
		}
		lots = append(lots, *l)
	}
	return lots, rows.Err()
}

// Containers, warehouses and positions

const containerColumns = `id, ean, position_id, width, height, depth, weight, created_at`

func scanContainer(row rowScanner) (*inventory.Container, error) {
	c := &inventory.Container{}
	if err := row.Scan(&c.ID, &c.EAN, &c.PositionID, &c.Width, &c.Height, &c.Depth, &c.Weight, &c.CreatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *pgTx) CreateContainer(ctx context.Context, c *inventory.Container) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO containers (`+containerColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.EAN, c.PositionID, c.Width, c.Height, c.Depth, c.Weight, c.CreatedAt)
	return mapError(err, inventory.EntityContainer, c.ID)
}

func (t *pgTx) GetContainer(ctx context.Context, id string) (*inventory.Container, error) {
	c, err := scanContainer(t.tx.QueryRowContext(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, inventory.EntityContainer, id)
	}
	return c, nil
}

func (t *pgTx) FindContainerByEAN(ctx context.Context, ean string) (*inventory.Container, error) {
	c, err := scanContainer(t.tx.QueryRowContext(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE ean = $1 LIMIT 1`, ean))
	if err != nil {
		return nil, mapError(err, inventory.EntityContainer, ean)
	}
	return c, nil
}

func (t *pgTx) UpdateContainer(ctx context.Context, c *inventory.Container) error {
	return t.exec(ctx, inventory.EntityContainer, c.ID,
		`UPDATE containers SET ean = $2, position_id = $3, width = $4, height = $5, depth = $6, weight = $7
		WHERE id = $1`,
		c.ID, c.EAN, c.PositionID, c.Width, c.Height, c.Depth, c.Weight)
}

func (t *pgTx) CreateWarehouse(ctx context.Context, w *inventory.Warehouse) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO warehouses (id, name, created_at) VALUES ($1, $2, $3)`, w.ID, w.Name, w.CreatedAt)
	return mapError(err, inventory.EntityWarehouse, w.ID)
}

func (t *pgTx) GetWarehouse(ctx context.Context, id string) (*inventory.Warehouse, error) {
	w := &inventory.Warehouse{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM warehouses WHERE id = $1`, id).Scan(&w.ID, &w.Name, &w.CreatedAt)
	if err != nil {
		return nil, mapError(err, inventory.EntityWarehouse, id)
	}
	return w, nil
}

func (t *pgTx) CreatePosition(ctx context.Context, p *inventory.Position) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO positions (id, warehouse_id, code, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.WarehouseID, p.Code, p.CreatedAt)
	return mapError(err, inventory.EntityPosition, p.ID)
}

func (t *pgTx) GetPosition(ctx context.Context, id string) (*inventory.Position, error) {
	p := &inventory.Position{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, warehouse_id, code, created_at FROM positions WHERE id = $1`, id).
		Scan(&p.ID, &p.WarehouseID, &p.Code, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err, inventory.EntityPosition, id)
	}
	return p, nil
}

func (t *pgTx) UpdatePosition(ctx context.Context, p *inventory.Position) error {
	return t.exec(ctx, inventory.EntityPosition, p.ID,
		`UPDATE positions SET code = $2 WHERE id = $1`, p.ID, p.Code)
}

func (t *pgTx) DeletePosition(ctx context.Context, id string) error {
	return t.exec(ctx, inventory.EntityPosition, id, `DELETE FROM positions WHERE id = $1`, id)
}

// Stock groups and memberships

const groupDetailQuery = `
	SELECT g.id, g.lot_id, g.container_id, g.quantity, g.rescanned, g.created_at,
	       l.product_id, l.number, l.expiry_date
	FROM stock_groups g
	JOIN lots l ON l.id = g.lot_id`

func (t *pgTx) CreateGroup(ctx context.Context, g *inventory.StockGroup) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO stock_groups (id, lot_id, container_id, quantity, rescanned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.LotID, g.ContainerID, g.Quantity, g.Rescanned, g.CreatedAt)
	return mapError(err, inventory.EntityGroup, g.ID)
}

func (t *pgTx) GetGroup(ctx context.Context, id string) (*inventory.GroupDetail, error) {
	groups, err := t.queryGroups(ctx, groupDetailQuery+` WHERE g.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, inventory.NewNotFoundError(inventory.EntityGroup, id)
	}
	return &groups[0], nil
}

func (t *pgTx) UpdateGroup(ctx context.Context, g *inventory.StockGroup) error {
	return t.exec(ctx, inventory.EntityGroup, g.ID,
		`UPDATE stock_groups SET container_id = $2, quantity = $3, rescanned = $4 WHERE id = $1`,
		g.ID, g.ContainerID, g.Quantity, g.Rescanned)
}

func (t *pgTx) DeleteGroup(ctx context.Context, id string) error {
	return t.exec(ctx, inventory.EntityGroup, id, `DELETE FROM stock_groups WHERE id = $1`, id)
}

func (t *pgTx) ListGroupsByProduct(ctx context.Context, productID string) ([]inventory.GroupDetail, error) {
	return t.queryGroups(ctx, groupDetailQuery+`
	WHERE l.product_id = $1
	ORDER BY g.created_at, g.id`, productID)
}

func (t *pgTx) ListGroupsByOperation(ctx context.Context, operationID string) ([]inventory.GroupDetail, error) {
	return t.queryGroups(ctx, groupDetailQuery+`
	JOIN operation_groups m ON m.group_id = g.id
	WHERE m.operation_id = $1
	ORDER BY g.created_at, g.id`, operationID)
}

func (t *pgTx) queryGroups(ctx context.Context, query string, args ...interface{}) ([]inventory.GroupDetail, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ストックグループ取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var groups []inventory.GroupDetail
	for rows.Next() {
		var g inventory.GroupDetail
		if err := rows.Scan(&g.ID, &g.LotID, &g.ContainerID, &g.Quantity, &g.Rescanned, &g.CreatedAt,
			&g.ProductID, &g.LotNumber, &g.ExpiryDate); err != nil {
			return nil, fmt.Errorf("ストックグループスキャンに失敗しました: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := t.loadMemberships(ctx, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (t *pgTx) loadMemberships(ctx context.Context, groups []inventory.GroupDetail) error {
	if len(groups) == 0 {
		return nil
	}
	ids := make([]string, len(groups))
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
		index[g.ID] = i
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT m.group_id, m.operation_id, o.type, m.attached_at
		FROM operation_groups m
		JOIN operations o ON o.id = m.operation_id
		WHERE m.group_id = ANY($1)
		ORDER BY m.attached_at, m.operation_id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("所属オペレーション取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m inventory.Membership
		if err := rows.Scan(&m.GroupID, &m.OperationID, &m.OperationType, &m.AttachedAt); err != nil {
			return fmt.Errorf("所属オペレーションスキャンに失敗しました: %w", err)
		}
		i := index[m.GroupID]
		groups[i].Memberships = append(groups[i].Memberships, m)
	}
	return rows.Err()
}

func (t *pgTx) Attach(ctx context.Context, m inventory.Membership) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO operation_groups (operation_id, group_id, attached_at) VALUES ($1, $2, $3)
		ON CONFLICT (operation_id, group_id) DO NOTHING`,
		m.OperationID, m.GroupID, m.AttachedAt)
	return mapError(err, inventory.EntityGroup, m.GroupID)
}

func (t *pgTx) Detach(ctx context.Context, operationID, groupID string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM operation_groups WHERE operation_id = $1 AND group_id = $2`, operationID, groupID)
	return mapError(err, inventory.EntityGroup, groupID)
}

// Operations

const operationColumns = `id, number, type, status, client_id, description, created_by,
	delivery_date, cash_on_delivery, delivery, invoice, created_at, updated_at`

func scanOperation(row rowScanner) (*inventory.Operation, error) {
	op := &inventory.Operation{}
	var delivery, invoice []byte
	if err := row.Scan(&op.ID, &op.Number, &op.Type, &op.Status, &op.ClientID, &op.Description, &op.CreatedBy,
		&op.DeliveryDate, &op.CashOnDelivery, &delivery, &invoice, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if op.Delivery, err = decodeAddress(delivery); err != nil {
		return nil, err
	}
	if op.Invoice, err = decodeAddress(invoice); err != nil {
		return nil, err
	}
	return op, nil
}

func encodeAddress(a *inventory.Address) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func decodeAddress(raw []byte) (*inventory.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	a := &inventory.Address{}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, fmt.Errorf("住所のデコードに失敗しました: %w", err)
	}
	return a, nil
}

func (t *pgTx) CreateOperation(ctx context.Context, op *inventory.Operation) error {
	delivery, err := encodeAddress(op.Delivery)
	if err != nil {
		return err
	}
	invoice, err := encodeAddress(op.Invoice)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO operations (`+operationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		op.ID, op.Number, op.Type, op.Status, op.ClientID, op.Description, op.CreatedBy,
		op.DeliveryDate, op.CashOnDelivery, delivery, invoice, op.CreatedAt, op.UpdatedAt)
	return mapError(err, inventory.EntityOperation, op.ID)
}

func (t *pgTx) GetOperation(ctx context.Context, id string) (*inventory.Operation, error) {
	op, err := scanOperation(t.tx.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, inventory.EntityOperation, id)
	}
	return op, nil
}

func (t *pgTx) LockOperation(ctx context.Context, id string) (*inventory.Operation, error) {
	op, err := scanOperation(t.tx.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err, inventory.EntityOperation, id)
	}
	return op, nil
}

func (t *pgTx) UpdateOperation(ctx context.Context, op *inventory.Operation) error {
	delivery, err := encodeAddress(op.Delivery)
	if err != nil {
		return err
	}
	invoice, err := encodeAddress(op.Invoice)
	if err != nil {
		return err
	}
	return t.exec(ctx, inventory.EntityOperation, op.ID,
		`UPDATE operations
		SET number = $2, status = $3, description = $4, delivery_date = $5, cash_on_delivery = $6,
		    delivery = $7, invoice = $8, updated_at = $9
		WHERE id = $1`,
		op.ID, op.Number, op.Status, op.Description, op.DeliveryDate, op.CashOnDelivery,
		delivery, invoice, op.UpdatedAt)
}

func (t *pgTx) DeleteOperation(ctx context.Context, id string) error {
	return t.exec(ctx, inventory.EntityOperation, id, `DELETE FROM operations WHERE id = $1`, id)
}

// History

func (t *pgTx) CreateHistory(ctx context.Context, e *inventory.HistoryEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO history (id, entity_type, entity_id, description, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.EntityType, e.EntityID, e.Description, e.UserID, e.CreatedAt)
	return mapError(err, e.EntityType, e.EntityID)
}

func (t *pgTx) ListHistory(ctx context.Context, entity inventory.EntityType, entityID string, limit int) ([]inventory.HistoryEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, description, user_id, created_at
		FROM history
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{entity, entityID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("履歴取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []inventory.HistoryEntry
	for rows.Next() {
		var e inventory.HistoryEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Description, &e.UserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("履歴スキャンに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
