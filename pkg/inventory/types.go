// Package inventory provides the warehouse operation engine: lots, stock groups,
// inbound/outbound allocation, the operation workflow and its audit history.
package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Timestamped is implemented by records that carry a creation time
// 作成日時を持つレコードが実装するインターフェース
type Timestamped interface {
	Timestamp() time.Time
}

// Product represents a SKU owned by a client, with its cached stock level
// クライアントが所有するSKUとキャッシュされた在庫数を表現
type Product struct {
	ID          string    `json:"id" db:"id"`                   // 商品ID
	SKU         string    `json:"sku" db:"sku"`                 // SKU
	Name        string    `json:"name" db:"name"`               // 商品名
	Description string    `json:"description" db:"description"` // 商品説明
	ClientID    string    `json:"client_id" db:"client_id"`     // 所有クライアント
	Stock       int64     `json:"stock" db:"stock"`             // 在庫数（投影値）
	CreatedAt   time.Time `json:"created_at" db:"created_at"`   // 作成日時
}

// Lot identifies a batch of a product; (ProductID, Number) is unique
// 商品のロットを表現（商品IDとロット番号の組で一意）
type Lot struct {
	ID         string     `json:"id" db:"id"`                   // ロットID
	ProductID  string     `json:"product_id" db:"product_id"`   // 商品ID
	Number     string     `json:"number" db:"number"`           // ロット番号（空文字可）
	ExpiryDate *time.Time `json:"expiry_date" db:"expiry_date"` // 有効期限
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`   // 作成日時
}

// Warehouse groups positions
// 倉庫
type Warehouse struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Position is a storage slot inside a warehouse
// 倉庫内の保管位置
type Position struct {
	ID          string    `json:"id" db:"id"`                     // 位置ID
	WarehouseID string    `json:"warehouse_id" db:"warehouse_id"` // 倉庫ID
	Code        string    `json:"code" db:"code"`                 // 位置コード
	CreatedAt   time.Time `json:"created_at" db:"created_at"`     // 作成日時
}

// Container is a physical box identified by its EAN barcode
// EANバーコードで識別される物理的な箱を表現
type Container struct {
	ID         string          `json:"id" db:"id"`                   // コンテナID
	EAN        string          `json:"ean" db:"ean"`                 // EANコード
	PositionID *string         `json:"position_id" db:"position_id"` // 保管位置
	Width      decimal.Decimal `json:"width" db:"width"`             // 幅
	Height     decimal.Decimal `json:"height" db:"height"`           // 高さ
	Depth      decimal.Decimal `json:"depth" db:"depth"`             // 奥行
	Weight     decimal.Decimal `json:"weight" db:"weight"`           // 重量
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`   // 作成日時
}

// StockGroup is the atomic unit of physical stock: a quantity of one lot,
// optionally inside a container
// 在庫の最小単位（ロットの数量、任意でコンテナ内）
type StockGroup struct {
	ID          string    `json:"id" db:"id"`                     // グループID
	LotID       string    `json:"lot_id" db:"lot_id"`             // ロットID
	ContainerID *string   `json:"container_id" db:"container_id"` // コンテナID
	Quantity    int64     `json:"quantity" db:"quantity"`         // 数量（常に正）
	Rescanned   bool      `json:"rescanned" db:"rescanned"`       // 再スキャン済み
	CreatedAt   time.Time `json:"created_at" db:"created_at"`     // 作成日時
}

// Membership links a stock group to an operation
// ストックグループとオペレーションの関連
type Membership struct {
	OperationID   string        `json:"operation_id" db:"operation_id"`
	OperationType OperationType `json:"operation_type" db:"operation_type"`
	GroupID       string        `json:"group_id" db:"group_id"`
	AttachedAt    time.Time     `json:"attached_at" db:"attached_at"`
}

// GroupDetail is a stock group joined with its lot and memberships
// ロット情報と所属オペレーションを結合したストックグループ
type GroupDetail struct {
	StockGroup
	ProductID   string       `json:"product_id"`
	LotNumber   string       `json:"lot_number"`
	ExpiryDate  *time.Time   `json:"expiry_date"`
	Memberships []Membership `json:"memberships"`
}

// Consumed reports whether the group has already been shipped by an outbound operation
// 出庫オペレーションに既に割り当て済みかどうか
func (g GroupDetail) Consumed() bool {
	for _, m := range g.Memberships {
		if m.OperationType == OperationTypeOut {
			return true
		}
	}
	return false
}

// BelongsTo reports whether the group is attached to the operation
func (g GroupDetail) BelongsTo(operationID string) bool {
	for _, m := range g.Memberships {
		if m.OperationID == operationID {
			return true
		}
	}
	return false
}

// OperationType defines the direction of an operation
// オペレーションの方向を定義
type OperationType string

const (
	OperationTypeIn  OperationType = "IN"  // 入庫
	OperationTypeOut OperationType = "OUT" // 出庫
)

// Valid reports whether t is a known operation type
func (t OperationType) Valid() bool {
	return t == OperationTypeIn || t == OperationTypeOut
}

// OperationStatus defines the workflow state of an operation
// オペレーションのワークフロー状態を定義
type OperationStatus string

const (
	StatusCreated   OperationStatus = "CREATED"   // 作成済み
	StatusBox       OperationStatus = "BOX"       // 梱包中
	StatusCompleted OperationStatus = "COMPLETED" // 完了
	StatusCancelled OperationStatus = "CANCELLED" // キャンセル
)

// Address is a delivery or invoice address block
// 配送先または請求先の住所
type Address struct {
	Name      string `json:"name,omitempty"`
	Street    string `json:"street,omitempty"`
	City      string `json:"city,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Note      string `json:"note,omitempty"`
	CompanyID string `json:"company_id,omitempty"` // 法人番号
	VATID     string `json:"vat_id,omitempty"`     // VAT番号
}

// Operation is a single IN or OUT workflow instance
// 入庫または出庫のワークフローを表現
type Operation struct {
	ID             string          `json:"id" db:"id"`                             // オペレーションID
	Number         string          `json:"number" db:"number"`                     // 番号（クライアント内）
	Type           OperationType   `json:"type" db:"type"`                         // タイプ
	Status         OperationStatus `json:"status" db:"status"`                     // ステータス
	ClientID       string          `json:"client_id" db:"client_id"`               // クライアントID
	Description    string          `json:"description" db:"description"`           // 説明
	CreatedBy      string          `json:"created_by" db:"created_by"`             // 作成者
	DeliveryDate   *time.Time      `json:"delivery_date" db:"delivery_date"`       // 配送日
	CashOnDelivery int64           `json:"cash_on_delivery" db:"cash_on_delivery"` // 代引き金額
	Delivery       *Address        `json:"delivery,omitempty" db:"delivery"`       // 配送先
	Invoice        *Address        `json:"invoice,omitempty" db:"invoice"`         // 請求先
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`             // 作成日時
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`             // 更新日時
}

// Terminal reports whether no further changes are permitted
func (o *Operation) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusCancelled
}

// EntityType names the kind of record a history entry belongs to
// 履歴の対象エンティティ種別
type EntityType string

const (
	EntityOperation EntityType = "operation"
	EntityProduct   EntityType = "product"
	EntityLot       EntityType = "lot"
	EntityGroup     EntityType = "group"
	EntityPosition  EntityType = "position"
	EntityContainer EntityType = "container"
	EntityWarehouse EntityType = "warehouse"
)

// HistoryEntry is an immutable audit record
// 変更不可の監査レコード
type HistoryEntry struct {
	ID          string     `json:"id" db:"id"`                   // 履歴ID
	EntityType  EntityType `json:"entity_type" db:"entity_type"` // エンティティ種別
	EntityID    string     `json:"entity_id" db:"entity_id"`     // エンティティID
	Description string     `json:"description" db:"description"` // 説明
	UserID      string     `json:"user_id" db:"user_id"`         // 実行ユーザー（空の場合はシステム）
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`   // 記録日時
}

func (h HistoryEntry) Timestamp() time.Time { return h.CreatedAt }
func (o Operation) Timestamp() time.Time    { return o.CreatedAt }
func (l Lot) Timestamp() time.Time          { return l.CreatedAt }
func (g StockGroup) Timestamp() time.Time   { return g.CreatedAt }

// CreatedBetween keeps the records created within [from, to]
// 指定期間内に作成されたレコードを抽出
func CreatedBetween[T Timestamped](records []T, from, to time.Time) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		ts := r.Timestamp()
		if ts.Before(from) || ts.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// OperationLine is one requested line of a new operation
// オペレーション作成時の明細行
type OperationLine struct {
	ProductID    string     `json:"product_id"`              // 商品ID
	Quantity     int64      `json:"quantity"`                // 数量
	LotNumber    *string    `json:"lot_number,omitempty"`    // ロット番号
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`   // 有効期限
	ContainerEAN *string    `json:"container_ean,omitempty"` // コンテナEAN（入庫のみ）
}

// CreateOperationRequest carries everything needed to create an operation
// オペレーション作成リクエスト
type CreateOperationRequest struct {
	UserID      string          `json:"user_id"`
	Type        OperationType   `json:"type"`
	Number      string          `json:"number"`
	Description string          `json:"description"`
	ClientID    string          `json:"client_id"`
	Lines       []OperationLine `json:"lines"`
	Delivery    *Address        `json:"delivery,omitempty"`
	Invoice     *Address        `json:"invoice,omitempty"`
}

// OperationPatch lists field updates; nil fields are left untouched
// オペレーション更新内容（nilの項目は変更しない）
type OperationPatch struct {
	Number         *string          `json:"number,omitempty"`
	Description    *string          `json:"description,omitempty"`
	Status         *OperationStatus `json:"status,omitempty"`
	DeliveryDate   *time.Time       `json:"delivery_date,omitempty"`
	CashOnDelivery *int64           `json:"cash_on_delivery,omitempty"`
	Delivery       *Address         `json:"delivery,omitempty"`
	Invoice        *Address         `json:"invoice,omitempty"`
}

// ProductSummary aggregates an operation's quantities per product
// オペレーション内の商品別集計
type ProductSummary struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Total     int64  `json:"total"`
	Rescanned int64  `json:"rescanned"`
}

// NewID generates a new entity ID
// 新しいエンティティIDを生成
func NewID() string {
	return uuid.New().String()
}

// IsExpired checks if a lot has expired
// ロットが期限切れかチェック
func (l *Lot) IsExpired(now time.Time) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return now.After(*l.ExpiryDate)
}

// IsExpiringSoon checks if a lot expires within the given duration
// ロットが指定期間内に期限切れになるかチェック
func (l *Lot) IsExpiringSoon(now time.Time, within time.Duration) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return now.Add(within).After(*l.ExpiryDate)
}

// expiryDay reduces t to its calendar date, read in t's own location, at UTC midnight
func expiryDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
