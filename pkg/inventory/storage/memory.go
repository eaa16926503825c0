package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/stockwise/pkg/inventory"
)

// MemoryStorage implements the Storage interface in process memory.
// Transactions are serialized by a single mutex and work on a copy of the
// state that replaces the live state only on commit.
// プロセス内メモリでStorageインターフェースを実装
type MemoryStorage struct {
	mu     sync.Mutex
	state  *memState
	logger *zap.Logger
}

var (
	_ inventory.Storage = (*MemoryStorage)(nil)
	_ inventory.Tx      = (*memTx)(nil)
)

type memState struct {
	products    map[string]inventory.Product
	lots        map[string]inventory.Lot
	warehouses  map[string]inventory.Warehouse
	positions   map[string]inventory.Position
	containers  map[string]inventory.Container
	groups      map[string]inventory.StockGroup
	memberships map[string]map[string]time.Time // group -> operation -> attached_at
	operations  map[string]inventory.Operation
	history     []inventory.HistoryEntry
}

// NewMemoryStorage creates an empty in-memory storage
// 空のメモリストレージを作成
func NewMemoryStorage(logger *zap.Logger) *MemoryStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStorage{
		state:  newMemState(),
		logger: logger,
	}
}

func newMemState() *memState {
	return &memState{
		products:    make(map[string]inventory.Product),
		lots:        make(map[string]inventory.Lot),
		warehouses:  make(map[string]inventory.Warehouse),
		positions:   make(map[string]inventory.Position),
		containers:  make(map[string]inventory.Container),
		groups:      make(map[string]inventory.StockGroup),
		memberships: make(map[string]map[string]time.Time),
		operations:  make(map[string]inventory.Operation),
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.lots {
		c.lots[k] = v
	}
	for k, v := range st.warehouses {
		c.warehouses[k] = v
	}
	for k, v := range st.positions {
		c.positions[k] = v
	}
	for k, v := range st.containers {
		c.containers[k] = v
	}
	for k, v := range st.groups {
		c.groups[k] = v
	}
	for g, ops := range st.memberships {
		inner := make(map[string]time.Time, len(ops))
		for op, at := range ops {
			inner[op] = at
		}
		c.memberships[g] = inner
	}
	for k, v := range st.operations {
		c.operations[k] = v
	}
	c.history = append([]inventory.HistoryEntry(nil), st.history...)
	return c
}

// WithTx runs fn against a private copy of the state and commits it when fn succeeds
// fnが成功した場合のみ変更を反映
func (s *MemoryStorage) WithTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		s.logger.Debug("メモリトランザクションをロールバックしました", zap.Error(err))
		return err
	}
	s.state = work
	return nil
}

// Ping always succeeds
func (s *MemoryStorage) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op
func (s *MemoryStorage) Close() error { return nil }

type memTx struct {
	st *memState
}

func notFound(entity inventory.EntityType, id string) error {
	return inventory.NewNotFoundError(entity, id)
}

func duplicate(what string) error {
	return fmt.Errorf("%w: %s", inventory.ErrDuplicateRecord, what)
}

func copyOperation(op inventory.Operation) *inventory.Operation {
	if op.Delivery != nil {
		d := *op.Delivery
		op.Delivery = &d
	}
	if op.Invoice != nil {
		i := *op.Invoice
		op.Invoice = &i
	}
	if op.DeliveryDate != nil {
		t := *op.DeliveryDate
		op.DeliveryDate = &t
	}
	return &op
}

// Products

func (t *memTx) CreateProduct(ctx context.Context, p *inventory.Product) error {
	if _, ok := t.st.products[p.ID]; ok {
		return duplicate("product " + p.ID)
	}
	t.st.products[p.ID] = *p
	return nil
}

func (t *memTx) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, notFound(inventory.EntityProduct, id)
	}
	return &p, nil
}

func (t *memTx) LockProduct(ctx context.Context, id string) (*inventory.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *memTx) UpdateProductStock(ctx context.Context, id string, stock int64) error {
	p, ok := t.st.products[id]
	if !ok {
		return notFound(inventory.EntityProduct, id)
	}
	p.Stock = stock
	t.st.products[id] = p
	return nil
}

func (t *memTx) ListProductIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(t.st.products))
	for id := range t.st.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Lots

func (t *memTx) CreateLot(ctx context.Context, lot *inventory.Lot) error {
	if _, err := t.FindLot(ctx, lot.ProductID, lot.Number); err == nil {
		return duplicate("lot " + lot.Number)
	}
	t.st.lots[lot.ID] = *lot
	return nil
}

func (t *memTx) GetLot(ctx context.Context, id string) (*inventory.Lot, error) {
	l, ok := t.st.lots[id]
	if !ok {
		return nil, notFound(inventory.EntityLot, id)
	}
	return &l, nil
}

func (t *memTx) FindLot(ctx context.Context, productID, number string) (*inventory.Lot, error) {
	for _, l := range t.st.lots {
		if l.ProductID == productID && l.Number == number {
			out := l
			return &out, nil
		}
	}
	return nil, notFound(inventory.EntityLot, productID+"/"+number)
}

func (t *memTx) UpdateLot(ctx context.Context, lot *inventory.Lot) error {
	if _, ok := t.st.lots[lot.ID]; !ok {
		return notFound(inventory.EntityLot, lot.ID)
	}
	t.st.lots[lot.ID] = *lot
	return nil
}

func (t *memTx) DeleteLot(ctx context.Context, id string) error {
	if _, ok := t.st.lots[id]; !ok {
		return notFound(inventory.EntityLot, id)
	}
	delete(t.st.lots, id)
	return nil
}

func (t *memTx) CountGroupsByLot(ctx context.Context, lotID string) (int, error) {
	n := 0
	for _, g := range t.st.groups {
		if g.LotID == lotID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ListLotsExpiringBefore(ctx context.Context, before time.Time) ([]inventory.Lot, error) {
	var out []inventory.Lot
	for _, l := range t.st.lots {
		if l.ExpiryDate != nil && l.ExpiryDate.Before(before) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(*out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(*out[j].ExpiryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Containers, warehouses and positions

func (t *memTx) CreateContainer(ctx context.Context, c *inventory.Container) error {
	if c.EAN != "" {
		if _, err := t.FindContainerByEAN(ctx, c.EAN); err == nil {
			return duplicate("container " + c.EAN)
		}
	}
	t.st.containers[c.ID] = *c
	return nil
}

func (t *memTx) GetContainer(ctx context.Context, id string) (*inventory.Container, error) {
	c, ok := t.st.containers[id]
	if !ok {
		return nil, notFound(inventory.EntityContainer, id)
	}
	return &c, nil
}

func (t *memTx) FindContainerByEAN(ctx context.Context, ean string) (*inventory.Container, error) {
	for _, c := range t.st.containers {
		if c.EAN == ean {
			out := c
			return &out, nil
		}
	}
	return nil, notFound(inventory.EntityContainer, ean)
}

func (t *memTx) UpdateContainer(ctx context.Context, c *inventory.Container) error {
	if _, ok := t.st.containers[c.ID]; !ok {
		return notFound(inventory.EntityContainer, c.ID)
	}
	t.st.containers[c.ID] = *c
	return nil
}

func (t *memTx) CreateWarehouse(ctx context.Context, w *inventory.Warehouse) error {
	t.st.warehouses[w.ID] = *w
	return nil
}

func (t *memTx) GetWarehouse(ctx context.Context, id string) (*inventory.Warehouse, error) {
	w, ok := t.st.warehouses[id]
	if !ok {
		return nil, notFound(inventory.EntityWarehouse, id)
	}
	return &w, nil
}

func (t *memTx) CreatePosition(ctx context.Context, p *inventory.Position) error {
	for _, existing := range t.st.positions {
		if existing.WarehouseID == p.WarehouseID && existing.Code == p.Code {
			return duplicate("position " + p.Code)
		}
	}
	t.st.positions[p.ID] = *p
	return nil
}

func (t *memTx) GetPosition(ctx context.Context, id string) (*inventory.Position, error) {
	p, ok := t.st.positions[id]
	if !ok {
		return nil, notFound(inventory.EntityPosition, id)
	}
	return &p, nil
}

func (t *memTx) UpdatePosition(ctx context.Context, p *inventory.Position) error {
	if _, ok := t.st.positions[p.ID]; !ok {
		return notFound(inventory.EntityPosition, p.ID)
	}
	t.st.positions[p.ID] = *p
	return nil
}

func (t *memTx) DeletePosition(ctx context.Context, id string) error {
	if _, ok := t.st.positions[id]; !ok {
		return notFound(inventory.EntityPosition, id)
	}
	delete(t.st.positions, id)
	for cid, c := range t.st.containers {
		if c.PositionID != nil && *c.PositionID == id {
			c.PositionID = nil
			t.st.containers[cid] = c
		}
	}
	return nil
}

// Stock groups and memberships

func (t *memTx) CreateGroup(ctx context.Context, g *inventory.StockGroup) error {
	if _, ok := t.st.lots[g.LotID]; !ok {
		return notFound(inventory.EntityLot, g.LotID)
	}
	t.st.groups[g.ID] = *g
	return nil
}

func (t *memTx) GetGroup(ctx context.Context, id string) (*inventory.GroupDetail, error) {
	g, ok := t.st.groups[id]
	if !ok {
		return nil, notFound(inventory.EntityGroup, id)
	}
	d := t.detail(g)
	return &d, nil
}

func (t *memTx) UpdateGroup(ctx context.Context, g *inventory.StockGroup) error {
	if _, ok := t.st.groups[g.ID]; !ok {
		return notFound(inventory.EntityGroup, g.ID)
	}
	t.st.groups[g.ID] = *g
	return nil
}

func (t *memTx) DeleteGroup(ctx context.Context, id string) error {
	if _, ok := t.st.groups[id]; !ok {
		return notFound(inventory.EntityGroup, id)
	}
	delete(t.st.groups, id)
	delete(t.st.memberships, id)
	return nil
}

func (t *memTx) ListGroupsByProduct(ctx context.Context, productID string) ([]inventory.GroupDetail, error) {
	var out []inventory.GroupDetail
	for _, g := range t.st.groups {
		if t.st.lots[g.LotID].ProductID == productID {
			out = append(out, t.detail(g))
		}
	}
	sortDetails(out)
	return out, nil
}

func (t *memTx) ListGroupsByOperation(ctx context.Context, operationID string) ([]inventory.GroupDetail, error) {
	var out []inventory.GroupDetail
	for gid, ops := range t.st.memberships {
		if _, ok := ops[operationID]; ok {
			out = append(out, t.detail(t.st.groups[gid]))
		}
	}
	sortDetails(out)
	return out, nil
}

func (t *memTx) Attach(ctx context.Context, m inventory.Membership) error {
	if _, ok := t.st.groups[m.GroupID]; !ok {
		return notFound(inventory.EntityGroup, m.GroupID)
	}
	if _, ok := t.st.operations[m.OperationID]; !ok {
		return notFound(inventory.EntityOperation, m.OperationID)
	}
	ops, ok := t.st.memberships[m.GroupID]
	if !ok {
		ops = make(map[string]time.Time)
		t.st.memberships[m.GroupID] = ops
	}
	if _, exists := ops[m.OperationID]; !exists {
		ops[m.OperationID] = m.AttachedAt
	}
	return nil
}

func (t *memTx) Detach(ctx context.Context, operationID, groupID string) error {
	if ops, ok := t.st.memberships[groupID]; ok {
		delete(ops, operationID)
		if len(ops) == 0 {
			delete(t.st.memberships, groupID)
		}
	}
	return nil
}

func (t *memTx) detail(g inventory.StockGroup) inventory.GroupDetail {
	lot := t.st.lots[g.LotID]
	d := inventory.GroupDetail{
		StockGroup: g,
		ProductID:  lot.ProductID,
		LotNumber:  lot.Number,
		ExpiryDate: lot.ExpiryDate,
	}
	for opID, at := range t.st.memberships[g.ID] {
		d.Memberships = append(d.Memberships, inventory.Membership{
			OperationID:   opID,
			OperationType: t.st.operations[opID].Type,
			GroupID:       g.ID,
			AttachedAt:    at,
		})
	}
	sort.Slice(d.Memberships, func(i, j int) bool {
		a, b := d.Memberships[i], d.Memberships[j]
		if !a.AttachedAt.Equal(b.AttachedAt) {
			return a.AttachedAt.Before(b.AttachedAt)
		}
		return a.OperationID < b.OperationID
	})
	return d
}

func sortDetails(groups []inventory.GroupDetail) {
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].CreatedAt.Equal(groups[j].CreatedAt) {
			return groups[i].CreatedAt.Before(groups[j].CreatedAt)
		}
		return groups[i].ID < groups[j].ID
	})
}

// Operations

func (t *memTx) CreateOperation(ctx context.Context, op *inventory.Operation) error {
	if _, ok := t.st.operations[op.ID]; ok {
		return duplicate("operation " + op.ID)
	}
	t.st.operations[op.ID] = *copyOperation(*op)
	return nil
}

func (t *memTx) GetOperation(ctx context.Context, id string) (*inventory.Operation, error) {
	op, ok := t.st.operations[id]
	if !ok {
		return nil, notFound(inventory.EntityOperation, id)
	}
	return copyOperation(op), nil
}

func (t *memTx) LockOperation(ctx context.Context, id string) (*inventory.Operation, error) {
	return t.GetOperation(ctx, id)
}

func (t *memTx) UpdateOperation(ctx context.Context, op *inventory.Operation) error {
	if _, ok := t.st.operations[op.ID]; !ok {
		return notFound(inventory.EntityOperation, op.ID)
	}
	t.st.operations[op.ID] = *copyOperation(*op)
	return nil
}

func (t *memTx) DeleteOperation(ctx context.Context, id string) error {
	if _, ok := t.st.operations[id]; !ok {
		return notFound(inventory.EntityOperation, id)
	}
	delete(t.st.operations, id)
	for gid := range t.st.memberships {
		_ = t.Detach(ctx, id, gid)
	}
	return nil
}

// History

func (t *memTx) CreateHistory(ctx context.Context, e *inventory.HistoryEntry) error {
	t.st.history = append(t.st.history, *e)
	return nil
}

func (t *memTx) ListHistory(ctx context.Context, entity inventory.EntityType, entityID string, limit int) ([]inventory.HistoryEntry, error) {
	var out []inventory.HistoryEntry
	for i := len(t.st.history) - 1; i >= 0; i-- {
		e := t.st.history[i]
		if e.EntityType != entity || e.EntityID != entityID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
