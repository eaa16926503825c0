package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// getOrCreateLot returns the lot identified by (productID, number), creating it on first use.
// An existing lot keeps its expiry date. A new lot stores the expiry as a date.
func getOrCreateLot(ctx context.Context, s *session, productID, number string, expiry *time.Time) (*Lot, error) {
	lot, err := s.tx.FindLot(ctx, productID, number)
	if err == nil {
		return lot, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, wrapStorage("find_lot", "ロット取得に失敗しました", err)
	}

	lot = &Lot{
		ID:        NewID(),
		ProductID: productID,
		Number:    number,
		CreatedAt: s.now,
	}
	if expiry != nil {
		day := expiryDay(*expiry)
		lot.ExpiryDate = &day
	}
	if err := s.tx.CreateLot(ctx, lot); err != nil {
		return nil, wrapStorage("create_lot", "ロット作成に失敗しました", err)
	}
	if err := s.emit(ctx, EntityLot, lot.ID, ActionCreated,
		fmt.Sprintf("ロット '%s' を作成しました", number)); err != nil {
		return nil, err
	}
	return lot, nil
}

// deleteOrphanLots removes the given lots once no stock group references them
func deleteOrphanLots(ctx context.Context, s *session, lotIDs []string) error {
	for _, id := range lotIDs {
		n, err := s.tx.CountGroupsByLot(ctx, id)
		if err != nil {
			return wrapStorage("count_groups", "ロット参照数の取得に失敗しました", err)
		}
		if n > 0 {
			continue
		}
		lot, err := s.tx.GetLot(ctx, id)
		if err != nil {
			return wrapStorage("get_lot", "ロット取得に失敗しました", err)
		}
		if err := s.tx.DeleteLot(ctx, id); err != nil {
			return wrapStorage("delete_lot", "ロット削除に失敗しました", err)
		}
		if err := s.emit(ctx, EntityLot, id, ActionDeleted,
			fmt.Sprintf("ロット '%s' を削除しました", lot.Number)); err != nil {
			return err
		}
	}
	return nil
}

// GetOrCreateLot returns the lot of a product, creating it when missing.
// Repeated calls return the same lot and do not change its expiry date.
// ロットを取得し、存在しない場合は作成（冪等）
func (m *Manager) GetOrCreateLot(ctx context.Context, productID, lotNumber string, expiry *time.Time, userID string) (*Lot, error) {
	if err := ValidateLotNumber(lotNumber); err != nil {
		return nil, err
	}

	var lot *Lot
	err := m.run(ctx, userID, func(s *session) error {
		if _, err := s.tx.LockProduct(ctx, productID); err != nil {
			return wrapStorage("lock_product", "商品取得に失敗しました", err)
		}
		var err error
		lot, err = getOrCreateLot(ctx, s, productID, lotNumber, expiry)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("ロット取得完了",
		zap.String("lot_id", lot.ID),
		zap.String("lot_number", lotNumber),
		zap.String("product_id", productID),
	)
	return lot, nil
}

// RenameLot corrects the lot number of an existing lot
// 既存ロットのロット番号を訂正
func (m *Manager) RenameLot(ctx context.Context, lotID, number, userID string) (*Lot, error) {
	if err := ValidateLotNumber(number); err != nil {
		return nil, err
	}

	var lot *Lot
	err := m.run(ctx, userID, func(s *session) error {
		var err error
		lot, err = s.tx.GetLot(ctx, lotID)
		if err != nil {
			return wrapStorage("get_lot", "ロット取得に失敗しました", err)
		}
		if lot.Number == number {
			return nil
		}
		if _, err := s.tx.LockProduct(ctx, lot.ProductID); err != nil {
			return wrapStorage("lock_product", "商品取得に失敗しました", err)
		}
		if _, err := s.tx.FindLot(ctx, lot.ProductID, number); err == nil {
			return NewBusinessRuleError("unique_lot", "同じロット番号が既に存在します",
				fmt.Sprintf("product=%s lot=%s", lot.ProductID, number), ErrDuplicateRecord)
		} else if !errors.Is(err, ErrNotFound) {
			return wrapStorage("find_lot", "ロット取得に失敗しました", err)
		}

		old := lot.Number
		lot.Number = number
		if err := s.tx.UpdateLot(ctx, lot); err != nil {
			return wrapStorage("update_lot", "ロット更新に失敗しました", err)
		}
		return s.emit(ctx, EntityLot, lot.ID, ActionUpdated,
			fmt.Sprintf("ロット番号を '%s' から '%s' に変更しました", old, number))
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// GetExpiringLots retrieves lots that expire within the specified duration
// 指定期間内に期限切れになるロットを取得
func (m *Manager) GetExpiringLots(ctx context.Context, within time.Duration) ([]Lot, error) {
	if within <= 0 {
		within = m.config.ExpiryWarning
	}
	if within <= 0 {
		return nil, NewValidationError("within", "期間は正の値である必要があります", within.String())
	}

	threshold := m.now().UTC().Add(within)
	var lots []Lot
	err := m.run(ctx, "", func(s *session) error {
		var err error
		lots, err = s.tx.ListLotsExpiringBefore(ctx, threshold)
		return wrapStorage("list_expiring_lots", "期限間近ロット取得に失敗しました", err)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("期限間近ロット検索完了",
		zap.Duration("within", within),
		zap.Time("threshold", threshold),
		zap.Int("count", len(lots)),
	)
	return lots, nil
}
