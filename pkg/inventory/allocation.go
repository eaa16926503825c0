package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// allocate dispatches one line to the inbound or outbound path of the engine
func (m *Manager) allocate(ctx context.Context, s *session, op *Operation, line OperationLine) ([]StockGroup, error) {
	start := time.Now()
	groups, err := m.allocateLine(ctx, s, op, line)
	m.metrics.AllocationObserved(op.Type, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("明細割り当て完了",
		zap.String("operation_id", op.ID),
		zap.String("product_id", line.ProductID),
		zap.Int64("quantity", line.Quantity),
		zap.Int("groups", len(groups)),
	)
	return groups, nil
}

func (m *Manager) allocateLine(ctx context.Context, s *session, op *Operation, line OperationLine) ([]StockGroup, error) {
	if err := ValidateLine(op.Type, line); err != nil {
		return nil, err
	}
	if op.Type == OperationTypeIn {
		g, err := allocateInbound(ctx, s, op, line)
		if err != nil {
			return nil, err
		}
		return []StockGroup{*g}, nil
	}
	return allocateOutbound(ctx, s, op, line)
}

// allocateInbound creates the lot (if needed), the container (if an EAN is given)
// and one stock group carrying the full received quantity
func allocateInbound(ctx context.Context, s *session, op *Operation, line OperationLine) (*StockGroup, error) {
	if line.Quantity <= 0 {
		return nil, NewQuantityError(line.Quantity)
	}
	lotNumber := deref(line.LotNumber)

	product, err := s.tx.LockProduct(ctx, line.ProductID)
	if err != nil {
		return nil, wrapStorage("lock_product", "商品取得に失敗しました", err)
	}

	existing, err := s.tx.ListGroupsByOperation(ctx, op.ID)
	if err != nil {
		return nil, wrapStorage("list_groups", "ストックグループ取得に失敗しました", err)
	}
	for _, g := range existing {
		if g.ProductID == product.ID && g.LotNumber == lotNumber {
			return nil, NewBusinessRuleError("duplicate_lot",
				"入庫オペレーションに同じロットは登録できません",
				fmt.Sprintf("operation=%s product=%s lot=%s", op.ID, product.ID, lotNumber),
				ErrDuplicateLot)
		}
	}

	lot, err := getOrCreateLot(ctx, s, product.ID, lotNumber, line.ExpiryDate)
	if err != nil {
		return nil, err
	}

	var containerID *string
	if ean := deref(line.ContainerEAN); ean != "" {
		c, err := resolveContainer(ctx, s, ean)
		if err != nil {
			return nil, err
		}
		containerID = &c.ID
	}

	group, err := createGroup(ctx, s, lot.ID, containerID, line.Quantity)
	if err != nil {
		return nil, err
	}
	if err := attach(ctx, s, op.ID, op.Type, group.ID); err != nil {
		return nil, err
	}
	if _, err := recompute(ctx, s, product.ID); err != nil {
		return nil, err
	}
	return group, nil
}

// allocateOutbound consumes available groups in FEFO order, splitting at most one
func allocateOutbound(ctx context.Context, s *session, op *Operation, line OperationLine) ([]StockGroup, error) {
	if line.Quantity <= 0 {
		return nil, NewQuantityError(line.Quantity)
	}

	product, err := s.tx.LockProduct(ctx, line.ProductID)
	if err != nil {
		return nil, wrapStorage("lock_product", "商品取得に失敗しました", err)
	}

	all, err := s.tx.ListGroupsByProduct(ctx, product.ID)
	if err != nil {
		return nil, wrapStorage("list_groups", "ストックグループ取得に失敗しました", err)
	}
	candidates := OutboundCandidates(all, deref(line.LotNumber), line.ExpiryDate)

	var available int64
	for _, c := range candidates {
		available += c.Quantity
	}
	if available < line.Quantity {
		return nil, &InsufficientStockError{
			ProductID: product.ID,
			LotNumber: deref(line.LotNumber),
			Requested: line.Quantity,
			Available: available,
		}
	}

	taken := make([]StockGroup, 0, 2)
	var running int64
	for _, c := range candidates {
		need := line.Quantity - running
		if need == 0 {
			break
		}
		if c.Quantity <= need {
			if err := attach(ctx, s, op.ID, op.Type, c.ID); err != nil {
				return nil, err
			}
			taken = append(taken, c.StockGroup)
			running += c.Quantity
			continue
		}

		_, part, err := splitGroup(ctx, s, c, need)
		if err != nil {
			return nil, err
		}
		if err := attach(ctx, s, op.ID, op.Type, part.ID); err != nil {
			return nil, err
		}
		taken = append(taken, *part)
		running += need
		break
	}

	if _, err := recompute(ctx, s, product.ID); err != nil {
		return nil, err
	}
	return taken, nil
}

// OutboundCandidates returns the groups an outbound line may draw from, in FEFO order.
// Groups already shipped by an outbound operation are excluded. Empty filters match all.
// 出庫可能なグループをFEFO順で返す
func OutboundCandidates(groups []GroupDetail, lotNumber string, expiry *time.Time) []GroupDetail {
	out := make([]GroupDetail, 0, len(groups))
	for _, g := range groups {
		if g.Consumed() || g.Quantity <= 0 {
			continue
		}
		if lotNumber != "" && g.LotNumber != lotNumber {
			continue
		}
		if expiry != nil && (g.ExpiryDate == nil || !sameDay(*g.ExpiryDate, *expiry)) {
			continue
		}
		out = append(out, g)
	}
	SortFEFO(out)
	return out
}

// SortFEFO orders groups by expiry ascending with undated groups last,
// then by creation time and ID
// 有効期限の早い順（期限なしは最後）に並べ替え
func SortFEFO(groups []GroupDetail) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return false
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return true
		case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func sameDay(a, b time.Time) bool {
	return expiryDay(a).Equal(expiryDay(b))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
