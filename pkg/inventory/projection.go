package inventory

import (
	"context"
)

// SignedStock sums group quantities per membership: received quantities count
// positive, shipped quantities negative.
// 所属オペレーションごとに符号付きで数量を合計
func SignedStock(groups []GroupDetail) int64 {
	var total int64
	for _, g := range groups {
		for _, m := range g.Memberships {
			switch m.OperationType {
			case OperationTypeIn:
				total += g.Quantity
			case OperationTypeOut:
				total -= g.Quantity
			}
		}
	}
	return total
}

// recompute refreshes the cached stock of a product inside the session's transaction
func recompute(ctx context.Context, s *session, productID string) (int64, error) {
	groups, err := s.tx.ListGroupsByProduct(ctx, productID)
	if err != nil {
		return 0, wrapStorage("list_groups", "ストックグループ取得に失敗しました", err)
	}
	stock := SignedStock(groups)
	if err := s.tx.UpdateProductStock(ctx, productID, stock); err != nil {
		return 0, wrapStorage("update_product_stock", "在庫数の更新に失敗しました", err)
	}
	if s.stock == nil {
		s.stock = make(map[string]int64)
	}
	s.stock[productID] = stock
	return stock, nil
}
