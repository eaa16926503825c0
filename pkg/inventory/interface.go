package inventory

import (
	"context"
	"time"
)

// OperationService defines the external contract of the operation engine
// オペレーションエンジンの外部インターフェースを定義
type OperationService interface {
	// オペレーション - Operations
	CreateOperation(ctx context.Context, req CreateOperationRequest) (*Operation, error)
	AddLine(ctx context.Context, operationID string, line OperationLine, userID string) ([]StockGroup, error)
	GetOperation(ctx context.Context, operationID string) (*Operation, error)
	UpdateOperation(ctx context.Context, operationID string, patch OperationPatch, userID string) (*Operation, error)
	TransitionStatus(ctx context.Context, operationID string, status OperationStatus, userID string) (*Operation, error)
	CancelOperation(ctx context.Context, operationID string, userID string) (*Operation, error)
	RemoveOperation(ctx context.Context, operationID string, userID string) (bool, error)

	// 梱包 - Packing
	AddProductToBox(ctx context.Context, operationID, productID, containerID string, quantity int64, userID string) error
	ProductSummary(ctx context.Context, operationID string) ([]ProductSummary, error)

	// 在庫照会 - Stock inquiry
	GetStock(ctx context.Context, productID string) (int64, error)
	RecalculateStock(ctx context.Context, productID string) (int64, error)
	RecalculateAllStock(ctx context.Context) (int, error)

	// 履歴 - History
	GetHistory(ctx context.Context, entity EntityType, entityID string, limit int) ([]HistoryEntry, error)
	GetHistoryByDateRange(ctx context.Context, entity EntityType, entityID string, from, to time.Time) ([]HistoryEntry, error)
}

// CatalogService defines master data maintenance used by the engine
// エンジンが利用するマスタデータ管理のインターフェース
type CatalogService interface {
	CreateProduct(ctx context.Context, product *Product, userID string) error
	GetProduct(ctx context.Context, productID string) (*Product, error)
	GetOrCreateLot(ctx context.Context, productID, lotNumber string, expiry *time.Time, userID string) (*Lot, error)
	RenameLot(ctx context.Context, lotID, number, userID string) (*Lot, error)
	GetExpiringLots(ctx context.Context, within time.Duration) ([]Lot, error)
	CreateWarehouse(ctx context.Context, name string) (*Warehouse, error)
	CreatePosition(ctx context.Context, warehouseID, code, userID string) (*Position, error)
	RenamePosition(ctx context.Context, positionID, code, userID string) (*Position, error)
	DeletePosition(ctx context.Context, positionID, userID string) error
	CreateContainer(ctx context.Context, container *Container, userID string) error
	PlaceContainer(ctx context.Context, containerID string, positionID *string, userID string) (*Container, error)
}

// Storage defines the interface for data persistence layer.
// Every engine call runs inside exactly one WithTx scope.
// データ永続化層のインターフェースを定義
type Storage interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx exposes the repositories bound to one storage transaction
// 1つのトランザクションに束縛されたリポジトリ群
type Tx interface {
	// Products
	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, productID string) (*Product, error)
	// LockProduct returns the product and holds a row lock until the transaction ends
	LockProduct(ctx context.Context, productID string) (*Product, error)
	UpdateProductStock(ctx context.Context, productID string, stock int64) error
	ListProductIDs(ctx context.Context) ([]string, error)

	// Lots
	CreateLot(ctx context.Context, lot *Lot) error
	GetLot(ctx context.Context, lotID string) (*Lot, error)
	FindLot(ctx context.Context, productID, number string) (*Lot, error)
	UpdateLot(ctx context.Context, lot *Lot) error
	DeleteLot(ctx context.Context, lotID string) error
	CountGroupsByLot(ctx context.Context, lotID string) (int, error)
	ListLotsExpiringBefore(ctx context.Context, before time.Time) ([]Lot, error)

	// Containers and positions
	CreateContainer(ctx context.Context, container *Container) error
	GetContainer(ctx context.Context, containerID string) (*Container, error)
	FindContainerByEAN(ctx context.Context, ean string) (*Container, error)
	UpdateContainer(ctx context.Context, container *Container) error
	CreateWarehouse(ctx context.Context, warehouse *Warehouse) error
	GetWarehouse(ctx context.Context, warehouseID string) (*Warehouse, error)
	CreatePosition(ctx context.Context, position *Position) error
	GetPosition(ctx context.Context, positionID string) (*Position, error)
	UpdatePosition(ctx context.Context, position *Position) error
	DeletePosition(ctx context.Context, positionID string) error

	// Stock groups and memberships
	CreateGroup(ctx context.Context, group *StockGroup) error
	GetGroup(ctx context.Context, groupID string) (*GroupDetail, error)
	UpdateGroup(ctx context.Context, group *StockGroup) error
	DeleteGroup(ctx context.Context, groupID string) error
	ListGroupsByProduct(ctx context.Context, productID string) ([]GroupDetail, error)
	ListGroupsByOperation(ctx context.Context, operationID string) ([]GroupDetail, error)
	Attach(ctx context.Context, membership Membership) error
	Detach(ctx context.Context, operationID, groupID string) error

	// Operations
	CreateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, operationID string) (*Operation, error)
	LockOperation(ctx context.Context, operationID string) (*Operation, error)
	UpdateOperation(ctx context.Context, op *Operation) error
	DeleteOperation(ctx context.Context, operationID string) error

	// History
	CreateHistory(ctx context.Context, entry *HistoryEntry) error
	ListHistory(ctx context.Context, entity EntityType, entityID string, limit int) ([]HistoryEntry, error)
}

// EventPublisher receives committed domain events
// コミット済みのドメインイベントを受け取る
type EventPublisher interface {
	Publish(ctx context.Context, events []Event) error
}

// Metrics receives engine measurements
// エンジンの計測値を受け取る
type Metrics interface {
	OperationCreated(opType OperationType)
	AllocationObserved(opType OperationType, duration time.Duration, err error)
	StatusChanged(from, to OperationStatus)
	StockRecomputed(productID string, stock int64)
}

type nopMetrics struct{}

func (nopMetrics) OperationCreated(OperationType)                          {}
func (nopMetrics) AllocationObserved(OperationType, time.Duration, error) {}
func (nopMetrics) StatusChanged(OperationStatus, OperationStatus)          {}
func (nopMetrics) StockRecomputed(string, int64)                           {}
