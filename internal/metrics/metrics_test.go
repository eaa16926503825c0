package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemonet1337/stockwise/pkg/inventory"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("test")

	c.OperationCreated(inventory.OperationTypeIn)
	c.OperationCreated(inventory.OperationTypeIn)
	c.OperationCreated(inventory.OperationTypeOut)
	c.StatusChanged(inventory.StatusCreated, inventory.StatusBox)
	c.StockRecomputed("p-1", 42)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operationsCreated.WithLabelValues("IN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationsCreated.WithLabelValues("OUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("CREATED", "BOX")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.productStock.WithLabelValues("p-1")))
}

func TestCollector_AllocationObserved(t *testing.T) {
	c := NewCollector("test")

	c.AllocationObserved(inventory.OperationTypeOut, 10*time.Millisecond, nil)
	c.AllocationObserved(inventory.OperationTypeOut, 5*time.Millisecond,
		&inventory.InsufficientStockError{ProductID: "p-1", Requested: 10, Available: 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.allocations.WithLabelValues("OUT", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.allocations.WithLabelValues("OUT", "insufficient_stock")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.allocationDuration))
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("line: %w", inventory.ErrDuplicateLot), "duplicate_lot"},
		{inventory.NewQuantityError(0), "invalid_quantity"},
		{inventory.NewNotFoundError(inventory.EntityProduct, "x"), "not_found"},
		{errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Result(tt.err))
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("stockwise")
	c.OperationCreated(inventory.OperationTypeIn)

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `stockwise_operations_created_total{type="IN"} 1`)
}
