package inventory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

func createGroup(ctx context.Context, s *session, lotID string, containerID *string, quantity int64) (*StockGroup, error) {
	if quantity <= 0 {
		return nil, NewQuantityError(quantity)
	}
	g := &StockGroup{
		ID:          NewID(),
		LotID:       lotID,
		ContainerID: containerID,
		Quantity:    quantity,
		CreatedAt:   s.now,
	}
	if err := s.tx.CreateGroup(ctx, g); err != nil {
		return nil, wrapStorage("create_group", "ストックグループ作成に失敗しました", err)
	}
	if err := s.emit(ctx, EntityGroup, g.ID, ActionCreated,
		fmt.Sprintf("ストックグループを作成しました (数量: %d)", quantity)); err != nil {
		return nil, err
	}
	return g, nil
}

// splitGroup reduces g by take and creates a new group of size take that shares
// g's lot, container and operation memberships
func splitGroup(ctx context.Context, s *session, g GroupDetail, take int64) (*StockGroup, *StockGroup, error) {
	if take <= 0 || take >= g.Quantity {
		return nil, nil, NewBusinessRuleError("split",
			"分割数量は0より大きくグループ数量未満である必要があります",
			fmt.Sprintf("group=%s quantity=%d take=%d", g.ID, g.Quantity, take),
			ErrInvalidSplit)
	}

	kept := g.StockGroup
	before := kept.Quantity
	kept.Quantity -= take
	if err := s.tx.UpdateGroup(ctx, &kept); err != nil {
		return nil, nil, wrapStorage("update_group", "ストックグループ更新に失敗しました", err)
	}
	if err := s.emit(ctx, EntityGroup, kept.ID, ActionUpdated,
		fmt.Sprintf("数量を %d から %d に変更しました", before, kept.Quantity)); err != nil {
		return nil, nil, err
	}

	part, err := createGroup(ctx, s, g.LotID, g.ContainerID, take)
	if err != nil {
		return nil, nil, err
	}
	for _, mb := range g.Memberships {
		if err := attach(ctx, s, mb.OperationID, mb.OperationType, part.ID); err != nil {
			return nil, nil, err
		}
	}
	return &kept, part, nil
}

func attach(ctx context.Context, s *session, operationID string, opType OperationType, groupID string) error {
	mb := Membership{
		OperationID:   operationID,
		OperationType: opType,
		GroupID:       groupID,
		AttachedAt:    s.now,
	}
	if err := s.tx.Attach(ctx, mb); err != nil {
		return wrapStorage("attach_group", "ストックグループの割り当てに失敗しました", err)
	}
	return s.emit(ctx, EntityGroup, groupID, ActionAttached,
		fmt.Sprintf("%s オペレーション %s に割り当てました", opType, operationID))
}

func detach(ctx context.Context, s *session, operationID, groupID string) error {
	if err := s.tx.Detach(ctx, operationID, groupID); err != nil {
		return wrapStorage("detach_group", "ストックグループの割り当て解除に失敗しました", err)
	}
	return s.emit(ctx, EntityGroup, groupID, ActionDetached,
		fmt.Sprintf("オペレーション %s から割り当て解除しました", operationID))
}

func assignToContainer(ctx context.Context, s *session, g StockGroup, containerID string, markRescanned bool) (*StockGroup, error) {
	from := deref(g.ContainerID)
	g.ContainerID = &containerID
	if markRescanned {
		g.Rescanned = true
	}
	if err := s.tx.UpdateGroup(ctx, &g); err != nil {
		return nil, wrapStorage("update_group", "ストックグループ更新に失敗しました", err)
	}
	desc := fmt.Sprintf("コンテナを '%s' から '%s' に変更しました", from, containerID)
	if err := s.emit(ctx, EntityGroup, g.ID, ActionUpdated, desc); err != nil {
		return nil, err
	}
	return &g, nil
}

// SplitGroup splits take units off a stock group into a new group
// ストックグループから指定数量を分割
func (m *Manager) SplitGroup(ctx context.Context, groupID string, take int64, userID string) (*StockGroup, *StockGroup, error) {
	var kept, part *StockGroup
	err := m.run(ctx, userID, func(s *session) error {
		g, err := s.tx.GetGroup(ctx, groupID)
		if err != nil {
			return wrapStorage("get_group", "ストックグループ取得に失敗しました", err)
		}
		if _, err := s.tx.LockProduct(ctx, g.ProductID); err != nil {
			return wrapStorage("lock_product", "商品取得に失敗しました", err)
		}
		// 行ロック取得後に再読込
		if g, err = s.tx.GetGroup(ctx, groupID); err != nil {
			return wrapStorage("get_group", "ストックグループ取得に失敗しました", err)
		}
		kept, part, err = splitGroup(ctx, s, *g, take)
		if err != nil {
			return err
		}
		_, err = recompute(ctx, s, g.ProductID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return kept, part, nil
}

// AssignGroupToContainer moves a stock group into a container
// ストックグループをコンテナに移動
func (m *Manager) AssignGroupToContainer(ctx context.Context, groupID, containerID string, markRescanned bool, userID string) (*StockGroup, error) {
	var out *StockGroup
	err := m.run(ctx, userID, func(s *session) error {
		g, err := s.tx.GetGroup(ctx, groupID)
		if err != nil {
			return wrapStorage("get_group", "ストックグループ取得に失敗しました", err)
		}
		if _, err := s.tx.LockProduct(ctx, g.ProductID); err != nil {
			return wrapStorage("lock_product", "商品取得に失敗しました", err)
		}
		// 行ロック取得後に再読込
		if g, err = s.tx.GetGroup(ctx, groupID); err != nil {
			return wrapStorage("get_group", "ストックグループ取得に失敗しました", err)
		}
		if _, err := s.tx.GetContainer(ctx, containerID); err != nil {
			return wrapStorage("get_container", "コンテナ取得に失敗しました", err)
		}
		out, err = assignToContainer(ctx, s, g.StockGroup, containerID, markRescanned)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddProductToBox packs quantity units of a product from the operation into a
// container, taking not-yet-rescanned groups oldest first and splitting the last one
// オペレーション内の商品を指定数量だけコンテナに梱包
func (m *Manager) AddProductToBox(ctx context.Context, operationID, productID, containerID string, quantity int64, userID string) error {
	if quantity <= 0 {
		return NewQuantityError(quantity)
	}

	err := m.run(ctx, userID, func(s *session) error {
		op, err := s.tx.LockOperation(ctx, operationID)
		if err != nil {
			return wrapStorage("lock_operation", "オペレーション取得に失敗しました", err)
		}
		if op.Terminal() {
			return &StateError{OperationID: op.ID, Status: op.Status, Action: "梱包"}
		}
		if _, err := s.tx.LockProduct(ctx, productID); err != nil {
			return wrapStorage("lock_product", "商品取得に失敗しました", err)
		}
		if _, err := s.tx.GetContainer(ctx, containerID); err != nil {
			return wrapStorage("get_container", "コンテナ取得に失敗しました", err)
		}

		groups, err := s.tx.ListGroupsByOperation(ctx, op.ID)
		if err != nil {
			return wrapStorage("list_groups", "ストックグループ取得に失敗しました", err)
		}
		pending := make([]GroupDetail, 0, len(groups))
		var available int64
		for _, g := range groups {
			if g.ProductID == productID && !g.Rescanned {
				pending = append(pending, g)
				available += g.Quantity
			}
		}
		if available < quantity {
			return &InsufficientStockError{ProductID: productID, Requested: quantity, Available: available}
		}
		sort.SliceStable(pending, func(i, j int) bool {
			if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
				return pending[i].CreatedAt.Before(pending[j].CreatedAt)
			}
			return pending[i].ID < pending[j].ID
		})

		remaining := quantity
		for _, g := range pending {
			if remaining == 0 {
				break
			}
			if g.Quantity <= remaining {
				if _, err := assignToContainer(ctx, s, g.StockGroup, containerID, true); err != nil {
					return err
				}
				remaining -= g.Quantity
				continue
			}
			_, part, err := splitGroup(ctx, s, g, remaining)
			if err != nil {
				return err
			}
			if _, err := assignToContainer(ctx, s, *part, containerID, true); err != nil {
				return err
			}
			remaining = 0
		}

		_, err = recompute(ctx, s, productID)
		return err
	})
	if err != nil {
		return err
	}

	m.logger.Info("梱包完了",
		zap.String("operation_id", operationID),
		zap.String("product_id", productID),
		zap.String("container_id", containerID),
		zap.Int64("quantity", quantity),
	)
	return nil
}

// ProductSummary totals an operation's quantities per product
// オペレーションの商品別数量を集計
func (m *Manager) ProductSummary(ctx context.Context, operationID string) ([]ProductSummary, error) {
	var out []ProductSummary
	err := m.run(ctx, "", func(s *session) error {
		if _, err := s.tx.GetOperation(ctx, operationID); err != nil {
			return wrapStorage("get_operation", "オペレーション取得に失敗しました", err)
		}
		groups, err := s.tx.ListGroupsByOperation(ctx, operationID)
		if err != nil {
			return wrapStorage("list_groups", "ストックグループ取得に失敗しました", err)
		}

		byProduct := make(map[string]*ProductSummary)
		for _, g := range groups {
			sum, ok := byProduct[g.ProductID]
			if !ok {
				p, err := s.tx.GetProduct(ctx, g.ProductID)
				if err != nil {
					return wrapStorage("get_product", "商品取得に失敗しました", err)
				}
				sum = &ProductSummary{ProductID: p.ID, SKU: p.SKU, Name: p.Name}
				byProduct[g.ProductID] = sum
			}
			sum.Total += g.Quantity
			if g.Rescanned {
				sum.Rescanned += g.Quantity
			}
		}

		out = make([]ProductSummary, 0, len(byProduct))
		for _, sum := range byProduct {
			out = append(out, *sum)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].SKU != out[j].SKU {
				return out[i].SKU < out[j].SKU
			}
			return out[i].ProductID < out[j].ProductID
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
