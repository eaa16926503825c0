package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/stockwise/pkg/inventory"
)

func newMockStorage(t *testing.T) (*PostgreSQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgreSQLStorageFromDB(db, zap.NewNop()), mock
}

func TestPostgreSQLStorage_WithTxCommit(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO products")).
		WithArgs("p1", "SKU-1", "商品", "", "c1", int64(0), t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.CreateProduct(ctx, &inventory.Product{ID: "p1", SKU: "SKU-1", Name: "商品", ClientID: "c1", CreatedAt: t0})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_WithTxRollback(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(inventory.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_CommitSerializationFailure(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	err := store.WithTx(ctx, func(inventory.Tx) error { return nil })
	var cErr *inventory.ConcurrencyError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "commit", cErr.Operation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_BeginFailure(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := store.WithTx(context.Background(), func(inventory.Tx) error { return nil })
	var sErr *inventory.StorageError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "begin", sErr.Operation)
}

func TestPostgreSQLStorage_GetProductNotFound(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		_, err := tx.GetProduct(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_LockProduct(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1 FOR UPDATE")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "name", "description", "client_id", "stock", "created_at"}).
			AddRow("p1", "SKU-1", "商品", "", "c1", int64(42), t0))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		p, err := tx.LockProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), p.Stock)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_CreateLotUniqueViolation(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lots")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "lots_product_number_key"})
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.CreateLot(ctx, &inventory.Lot{ID: "l1", ProductID: "p1", Number: "A", CreatedAt: t0})
	})
	assert.ErrorIs(t, err, inventory.ErrDuplicateRecord)
	assert.Contains(t, err.Error(), "lots_product_number_key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_UpdateMissingRow(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET stock = $2 WHERE id = $1")).
		WithArgs("p1", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.UpdateProductStock(ctx, "p1", 5)
	})
	var nf *inventory.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, inventory.EntityProduct, nf.Entity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_ListGroupsByOperation(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE m.operation_id = $1")).
		WithArgs("out").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "lot_id", "container_id", "quantity", "rescanned", "created_at",
			"product_id", "number", "expiry_date",
		}).
			AddRow("g1", "l1", nil, int64(10), false, t0, "p1", "A", nil).
			AddRow("g2", "l1", "c1", int64(5), true, t0, "p1", "A", t0))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE m.group_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "operation_id", "type", "attached_at"}).
			AddRow("g1", "in", "IN", t0).
			AddRow("g1", "out", "OUT", t0).
			AddRow("g2", "out", "OUT", t0))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		groups, err := tx.ListGroupsByOperation(ctx, "out")
		require.NoError(t, err)
		require.Len(t, groups, 2)

		assert.Nil(t, groups[0].ContainerID)
		assert.Nil(t, groups[0].ExpiryDate)
		require.Len(t, groups[0].Memberships, 2)
		assert.Equal(t, inventory.OperationTypeIn, groups[0].Memberships[0].OperationType)
		assert.True(t, groups[0].Consumed())

		require.NotNil(t, groups[1].ContainerID)
		assert.Equal(t, "c1", *groups[1].ContainerID)
		assert.True(t, groups[1].Rescanned)
		require.Len(t, groups[1].Memberships, 1)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_GetGroupNotFound(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE g.id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "lot_id", "container_id", "quantity", "rescanned", "created_at",
			"product_id", "number", "expiry_date",
		}))
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		_, err := tx.GetGroup(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_OperationAddresses(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	columns := []string{
		"id", "number", "type", "status", "client_id", "description", "created_by",
		"delivery_date", "cash_on_delivery", "delivery", "invoice", "created_at", "updated_at",
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO operations")).
		WithArgs("op1", "OUT-1", inventory.OperationTypeOut, inventory.StatusCreated, "c1", "", "u1",
			nil, int64(0), []byte(`{"city":"Brno","country":"CZ"}`), sqlmock.AnyArg(), t0, t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM operations WHERE id = $1 FOR UPDATE")).
		WithArgs("op1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("op1", "OUT-1", "OUT", "CREATED", "c1", "", "u1", nil, int64(0),
				[]byte(`{"city":"Brno","country":"CZ"}`), nil, t0, t0))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		require.NoError(t, tx.CreateOperation(ctx, &inventory.Operation{
			ID:        "op1",
			Number:    "OUT-1",
			Type:      inventory.OperationTypeOut,
			Status:    inventory.StatusCreated,
			ClientID:  "c1",
			CreatedBy: "u1",
			Delivery:  &inventory.Address{City: "Brno", Country: "CZ"},
			CreatedAt: t0,
			UpdatedAt: t0,
		}))

		op, err := tx.LockOperation(ctx, "op1")
		require.NoError(t, err)
		require.NotNil(t, op.Delivery)
		assert.Equal(t, "Brno", op.Delivery.City)
		assert.Nil(t, op.Invoice)
		assert.Equal(t, inventory.StatusCreated, op.Status)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_ListHistoryLimit(t *testing.T) {
	store, mock := newMockStorage(t)
	ctx := context.Background()

	columns := []string{"id", "entity_type", "entity_id", "description", "user_id", "created_at"}

	mock.ExpectBegin()
	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC\s+LIMIT \$3`).
		WithArgs("lot", "l1", 2).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("h2", "lot", "l1", "更新", "u1", t0).
			AddRow("h1", "lot", "l1", "作成", "u1", t0))
	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC$`).
		WithArgs("lot", "l1").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(tx inventory.Tx) error {
		entries, err := tx.ListHistory(ctx, inventory.EntityLot, "l1", 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "h2", entries[0].ID)
		assert.Equal(t, inventory.EntityLot, entries[0].EntityType)

		entries, err = tx.ListHistory(ctx, inventory.EntityLot, "l1", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLStorage_Ping(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectPing()
	assert.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, store.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil, inventory.EntityLot, "x"))
	assert.ErrorIs(t, mapError(sql.ErrNoRows, inventory.EntityLot, "x"), inventory.ErrNotFound)
	assert.ErrorIs(t, mapError(&pq.Error{Code: "23505"}, inventory.EntityLot, "x"), inventory.ErrDuplicateRecord)

	var cErr *inventory.ConcurrencyError
	assert.ErrorAs(t, mapError(&pq.Error{Code: "40P01", Message: "deadlock detected"}, inventory.EntityLot, "x"), &cErr)

	other := &pq.Error{Code: "23503"}
	assert.Equal(t, error(other), mapError(other, inventory.EntityLot, "x"))
}

func TestAddressCoding(t *testing.T) {
	raw, err := encodeAddress(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	a, err := decodeAddress(nil)
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = decodeAddress([]byte("{"))
	assert.Error(t, err)
}
