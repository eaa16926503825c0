package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/stockwise/pkg/inventory"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *MemoryStorage) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx inventory.Tx) error {
		ctx := context.Background()
		require.NoError(t, tx.CreateProduct(ctx, &inventory.Product{ID: "p1", Name: "商品1", CreatedAt: t0}))
		require.NoError(t, tx.CreateLot(ctx, &inventory.Lot{ID: "l1", ProductID: "p1", Number: "A", CreatedAt: t0}))
		require.NoError(t, tx.CreateOperation(ctx, &inventory.Operation{ID: "in", Type: inventory.OperationTypeIn, Status: inventory.StatusCreated}))
		require.NoError(t, tx.CreateOperation(ctx, &inventory.Operation{ID: "out", Type: inventory.OperationTypeOut, Status: inventory.StatusCreated}))
		require.NoError(t, tx.CreateGroup(ctx, &inventory.StockGroup{ID: "g1", LotID: "l1", Quantity: 10, CreatedAt: t0}))
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStorage_RollbackOnError(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	seed(t, s)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		require.NoError(t, tx.UpdateProductStock(ctx, "p1", 99))
		require.NoError(t, tx.DeleteGroup(ctx, "g1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// 変更は破棄される
	err = s.WithTx(ctx, func(tx inventory.Tx) error {
		p, err := tx.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), p.Stock)

		_, err = tx.GetGroup(ctx, "g1")
		assert.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStorage_CancelledContext(t *testing.T) {
	s := NewMemoryStorage(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(inventory.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
	assert.NoError(t, s.Close())
}

func TestMemoryStorage_UniqueConstraints(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	seed(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		assert.ErrorIs(t, tx.CreateProduct(ctx, &inventory.Product{ID: "p1"}), inventory.ErrDuplicateRecord)
		assert.ErrorIs(t, tx.CreateLot(ctx, &inventory.Lot{ID: "l2", ProductID: "p1", Number: "A"}), inventory.ErrDuplicateRecord)
		assert.NoError(t, tx.CreateLot(ctx, &inventory.Lot{ID: "l3", ProductID: "p1", Number: ""}))

		assert.NoError(t, tx.CreateContainer(ctx, &inventory.Container{ID: "c1", EAN: "12345670"}))
		assert.ErrorIs(t, tx.CreateContainer(ctx, &inventory.Container{ID: "c2", EAN: "12345670"}), inventory.ErrDuplicateRecord)
		assert.NoError(t, tx.CreateContainer(ctx, &inventory.Container{ID: "c3"}))
		assert.NoError(t, tx.CreateContainer(ctx, &inventory.Container{ID: "c4"}))

		require.NoError(t, tx.CreateWarehouse(ctx, &inventory.Warehouse{ID: "w1", Name: "Main"}))
		assert.NoError(t, tx.CreatePosition(ctx, &inventory.Position{ID: "pos1", WarehouseID: "w1", Code: "A-01"}))
		assert.ErrorIs(t, tx.CreatePosition(ctx, &inventory.Position{ID: "pos2", WarehouseID: "w1", Code: "A-01"}), inventory.ErrDuplicateRecord)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStorage_NotFound(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		_, err := tx.GetProduct(ctx, "x")
		assert.ErrorIs(t, err, inventory.ErrNotFound)
		_, err = tx.FindLot(ctx, "x", "A")
		assert.ErrorIs(t, err, inventory.ErrNotFound)
		_, err = tx.LockOperation(ctx, "x")
		assert.ErrorIs(t, err, inventory.ErrNotFound)
		assert.ErrorIs(t, tx.UpdateProductStock(ctx, "x", 1), inventory.ErrNotFound)
		assert.ErrorIs(t, tx.CreateGroup(ctx, &inventory.StockGroup{ID: "g", LotID: "x", Quantity: 1}), inventory.ErrNotFound)
		assert.ErrorIs(t, tx.Attach(ctx, inventory.Membership{OperationID: "x", GroupID: "y"}), inventory.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStorage_Memberships(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	seed(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		require.NoError(t, tx.Attach(ctx, inventory.Membership{OperationID: "in", GroupID: "g1", AttachedAt: t0}))
		require.NoError(t, tx.Attach(ctx, inventory.Membership{OperationID: "out", GroupID: "g1", AttachedAt: t0.Add(time.Minute)}))
		// 重複は無視
		require.NoError(t, tx.Attach(ctx, inventory.Membership{OperationID: "in", GroupID: "g1", AttachedAt: t0.Add(time.Hour)}))

		g, err := tx.GetGroup(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, g.Memberships, 2)
		assert.Equal(t, inventory.OperationTypeIn, g.Memberships[0].OperationType)
		assert.Equal(t, inventory.OperationTypeOut, g.Memberships[1].OperationType)
		assert.Equal(t, "p1", g.ProductID)
		assert.Equal(t, "A", g.LotNumber)
		assert.True(t, g.Consumed())

		groups, err := tx.ListGroupsByOperation(ctx, "out")
		require.NoError(t, err)
		assert.Len(t, groups, 1)

		// オペレーション削除で所属も解除
		require.NoError(t, tx.DeleteOperation(ctx, "out"))
		g, err = tx.GetGroup(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, g.Memberships, 1)
		assert.False(t, g.Consumed())

		require.NoError(t, tx.Detach(ctx, "in", "g1"))
		groups, err = tx.ListGroupsByOperation(ctx, "in")
		require.NoError(t, err)
		assert.Empty(t, groups)

		n, err := tx.CountGroupsByLot(ctx, "l1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStorage_DeletePositionClearsContainers(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		require.NoError(t, tx.CreateWarehouse(ctx, &inventory.Warehouse{ID: "w1", Name: "Main"}))
		require.NoError(t, tx.CreatePosition(ctx, &inventory.Position{ID: "pos1", WarehouseID: "w1", Code: "A-01"}))
		pos := "pos1"
		require.NoError(t, tx.CreateContainer(ctx, &inventory.Container{ID: "c1", PositionID: &pos}))

		require.NoError(t, tx.DeletePosition(ctx, "pos1"))
		c, err := tx.GetContainer(ctx, "c1")
		require.NoError(t, err)
		assert.Nil(t, c.PositionID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStorage_ListLotsExpiringBefore(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	seed(t, s)
	ctx := context.Background()

	d5 := t0.AddDate(0, 0, 5)
	d2 := t0.AddDate(0, 0, 2)
	d9 := t0.AddDate(0, 0, 9)

	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		require.NoError(t, tx.CreateLot(ctx, &inventory.Lot{ID: "l5", ProductID: "p1", Number: "D5", ExpiryDate: &d5}))
		require.NoError(t, tx.CreateLot(ctx, &inventory.Lot{ID: "l2", ProductID: "p1", Number: "D2", ExpiryDate: &d2}))
		require.NoError(t, tx.CreateLot(ctx, &inventory.Lot{ID: "l9", ProductID: "p1", Number: "D9", ExpiryDate: &d9}))

		lots, err := tx.ListLotsExpiringBefore(ctx, t0.AddDate(0, 0, 6))
		require.NoError(t, err)
		require.Len(t, lots, 2)
		assert.Equal(t, "l2", lots[0].ID)
		assert.Equal(t, "l5", lots[1].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStorage_ListHistory(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		for i, desc := range []string{"first", "second", "third"} {
			require.NoError(t, tx.CreateHistory(ctx, &inventory.HistoryEntry{
				ID:          desc,
				EntityType:  inventory.EntityLot,
				EntityID:    "l1",
				Description: desc,
				CreatedAt:   t0.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, tx.CreateHistory(ctx, &inventory.HistoryEntry{ID: "other", EntityType: inventory.EntityLot, EntityID: "l2"}))

		entries, err := tx.ListHistory(ctx, inventory.EntityLot, "l1", 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "third", entries[0].Description)

		entries, err = tx.ListHistory(ctx, inventory.EntityLot, "l1", 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "second", entries[1].Description)

		entries, err = tx.ListHistory(ctx, inventory.EntityGroup, "l1", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStorage_OperationCopies(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()

	addr := &inventory.Address{City: "Brno"}
	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		require.NoError(t, tx.CreateOperation(ctx, &inventory.Operation{ID: "op", Delivery: addr}))
		addr.City = "Praha"

		op, err := tx.GetOperation(ctx, "op")
		require.NoError(t, err)
		assert.Equal(t, "Brno", op.Delivery.City)

		op.Delivery.City = "Ostrava"
		again, err := tx.GetOperation(ctx, "op")
		require.NoError(t, err)
		assert.Equal(t, "Brno", again.Delivery.City)
		return nil
	})
	require.NoError(t, err)
}
