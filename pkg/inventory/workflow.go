package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// transitions lists the permitted next statuses; COMPLETED and CANCELLED are terminal
// 許可されたステータス遷移（COMPLETED と CANCELLED は終端）
var transitions = map[OperationStatus][]OperationStatus{
	StatusCreated: {StatusBox, StatusCancelled},
	StatusBox:     {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the workflow allows from -> to
// from から to への遷移が許可されているか
func CanTransition(from, to OperationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(op *Operation, to OperationStatus) error {
	if op.Terminal() {
		return &StateError{OperationID: op.ID, Status: op.Status, Action: "ステータス変更"}
	}
	if !CanTransition(op.Status, to) {
		return &TransitionError{OperationID: op.ID, From: op.Status, To: to}
	}
	return nil
}

// TransitionStatus moves an operation to the next workflow status
// オペレーションのステータスを遷移
func (m *Manager) TransitionStatus(ctx context.Context, operationID string, status OperationStatus, userID string) (*Operation, error) {
	var from OperationStatus
	var op *Operation
	err := m.run(ctx, userID, func(s *session) error {
		var err error
		op, err = s.tx.LockOperation(ctx, operationID)
		if err != nil {
			return wrapStorage("lock_operation", "オペレーション取得に失敗しました", err)
		}
		if err := checkTransition(op, status); err != nil {
			return err
		}
		from = op.Status
		return m.applyPatch(ctx, s, op, OperationPatch{Status: &status})
	})
	if err != nil {
		m.logger.Warn("ステータス遷移に失敗しました",
			zap.String("operation_id", operationID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return nil, err
	}

	m.metrics.StatusChanged(from, status)
	m.logger.Info("ステータス遷移完了",
		zap.String("operation_id", op.ID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)
	return op, nil
}

// CancelOperation cancels an operation that is not yet completed
// 未完了のオペレーションをキャンセル
func (m *Manager) CancelOperation(ctx context.Context, operationID, userID string) (*Operation, error) {
	return m.TransitionStatus(ctx, operationID, StatusCancelled, userID)
}

// UpdateOperation applies a patch to a non-terminal operation and records one
// history entry describing every changed field
// オペレーションを更新し、変更項目をまとめて1件の履歴に記録
func (m *Manager) UpdateOperation(ctx context.Context, operationID string, patch OperationPatch, userID string) (*Operation, error) {
	if patch.Number != nil {
		if err := ValidateOperationNumber(*patch.Number); err != nil {
			return nil, err
		}
	}
	if patch.Description != nil {
		if err := ValidateDescription(*patch.Description); err != nil {
			return nil, err
		}
	}
	if err := ValidateAddress("delivery", patch.Delivery); err != nil {
		return nil, err
	}
	if err := ValidateAddress("invoice", patch.Invoice); err != nil {
		return nil, err
	}

	var op *Operation
	var from OperationStatus
	err := m.run(ctx, userID, func(s *session) error {
		var err error
		op, err = s.tx.LockOperation(ctx, operationID)
		if err != nil {
			return wrapStorage("lock_operation", "オペレーション取得に失敗しました", err)
		}
		if op.Terminal() {
			return &StateError{OperationID: op.ID, Status: op.Status, Action: "更新"}
		}
		if op.Type == OperationTypeIn {
			if patch.Delivery != nil {
				return NewValidationError("delivery", "入庫オペレーションに配送先は指定できません", op.ID)
			}
			if patch.Invoice != nil {
				return NewValidationError("invoice", "入庫オペレーションに請求先は指定できません", op.ID)
			}
		}
		from = op.Status
		if patch.Status != nil && *patch.Status != op.Status {
			if err := checkTransition(op, *patch.Status); err != nil {
				return err
			}
		}
		return m.applyPatch(ctx, s, op, patch)
	})
	if err != nil {
		return nil, err
	}

	if op.Status != from {
		m.metrics.StatusChanged(from, op.Status)
	}
	return op, nil
}

// applyPatch writes the changed fields and one concatenated history entry.
// A change to CANCELLED releases the operation's stock first.
func (m *Manager) applyPatch(ctx context.Context, s *session, op *Operation, patch OperationPatch) error {
	var changes []string
	track := func(field, before, after string) {
		if before != after {
			changes = append(changes, fmt.Sprintf("%s を '%s' から '%s' に変更", field, before, after))
		}
	}

	if patch.Status != nil && *patch.Status != op.Status {
		if *patch.Status == StatusCancelled {
			if err := m.releaseStock(ctx, s, op); err != nil {
				return err
			}
		}
		track("status", string(op.Status), string(*patch.Status))
		op.Status = *patch.Status
	}
	if patch.Number != nil {
		track("number", op.Number, *patch.Number)
		op.Number = *patch.Number
	}
	if patch.Description != nil {
		track("description", op.Description, *patch.Description)
		op.Description = *patch.Description
	}
	if patch.DeliveryDate != nil {
		track("delivery_date", formatDate(op.DeliveryDate), formatDate(patch.DeliveryDate))
		d := *patch.DeliveryDate
		op.DeliveryDate = &d
	}
	if patch.CashOnDelivery != nil {
		track("cash_on_delivery", fmt.Sprintf("%d", op.CashOnDelivery), fmt.Sprintf("%d", *patch.CashOnDelivery))
		op.CashOnDelivery = *patch.CashOnDelivery
	}
	if patch.Delivery != nil {
		next := m.withDefaultCountry(patch.Delivery)
		diffAddress("delivery", op.Delivery, next, track)
		op.Delivery = next
	}
	if patch.Invoice != nil {
		diffAddress("invoice", op.Invoice, patch.Invoice, track)
		inv := *patch.Invoice
		op.Invoice = &inv
	}

	if len(changes) == 0 {
		return nil
	}
	op.UpdatedAt = s.now
	if err := s.tx.UpdateOperation(ctx, op); err != nil {
		return wrapStorage("update_operation", "オペレーション更新に失敗しました", err)
	}
	return s.emit(ctx, EntityOperation, op.ID, ActionUpdated, strings.Join(changes, "; "))
}

// RemoveOperation deletes an operation that is still CREATED. Inbound removal
// deletes its groups and the lots only it introduced; outbound removal detaches
// its groups so they become available again.
// 作成済み状態のオペレーションを削除
func (m *Manager) RemoveOperation(ctx context.Context, operationID, userID string) (bool, error) {
	err := m.run(ctx, userID, func(s *session) error {
		op, err := s.tx.LockOperation(ctx, operationID)
		if err != nil {
			return wrapStorage("lock_operation", "オペレーション取得に失敗しました", err)
		}
		if op.Status != StatusCreated {
			return &StateError{OperationID: op.ID, Status: op.Status, Action: "削除"}
		}
		if err := m.releaseStock(ctx, s, op); err != nil {
			return err
		}
		if err := s.tx.DeleteOperation(ctx, op.ID); err != nil {
			return wrapStorage("delete_operation", "オペレーション削除に失敗しました", err)
		}
		return s.emit(ctx, EntityOperation, op.ID, ActionDeleted,
			fmt.Sprintf("%s オペレーション %s を削除しました", op.Type, op.Number))
	})
	if err != nil {
		m.logger.Warn("オペレーション削除に失敗しました", zap.String("operation_id", operationID), zap.Error(err))
		return false, err
	}

	m.logger.Info("オペレーション削除完了", zap.String("operation_id", operationID))
	return true, nil
}

// releaseStock undoes the stock effect of an operation: outbound groups are
// detached, inbound groups are deleted together with the lots they exclusively
// introduced. Inbound groups already used by another operation cause a ConflictError.
func (m *Manager) releaseStock(ctx context.Context, s *session, op *Operation) error {
	groups, err := s.tx.ListGroupsByOperation(ctx, op.ID)
	if err != nil {
		return wrapStorage("list_groups", "ストックグループ取得に失敗しました", err)
	}

	products := make(map[string]struct{})
	for _, g := range groups {
		products[g.ProductID] = struct{}{}
	}
	productIDs := make([]string, 0, len(products))
	for id := range products {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)
	for _, id := range productIDs {
		if _, err := s.tx.LockProduct(ctx, id); err != nil {
			return wrapStorage("lock_product", "商品取得に失敗しました", err)
		}
	}

	switch op.Type {
	case OperationTypeOut:
		for _, g := range groups {
			if err := detach(ctx, s, op.ID, g.ID); err != nil {
				return err
			}
		}
	case OperationTypeIn:
		for _, g := range groups {
			for _, mb := range g.Memberships {
				if mb.OperationID != op.ID {
					return &ConflictError{
						OperationID: op.ID,
						GroupID:     g.ID,
						Message:     fmt.Sprintf("ストックグループはオペレーション %s でも使用されています", mb.OperationID),
					}
				}
			}
		}
		lotIDs := make([]string, 0, len(groups))
		seen := make(map[string]bool)
		for _, g := range groups {
			if err := s.tx.DeleteGroup(ctx, g.ID); err != nil {
				return wrapStorage("delete_group", "ストックグループ削除に失敗しました", err)
			}
			if err := s.emit(ctx, EntityGroup, g.ID, ActionDeleted,
				fmt.Sprintf("ストックグループを削除しました (数量: %d)", g.Quantity)); err != nil {
				return err
			}
			if !seen[g.LotID] {
				seen[g.LotID] = true
				lotIDs = append(lotIDs, g.LotID)
			}
		}
		if err := deleteOrphanLots(ctx, s, lotIDs); err != nil {
			return err
		}
	}

	for _, id := range productIDs {
		if _, err := recompute(ctx, s, id); err != nil {
			return err
		}
	}
	return nil
}

func diffAddress(prefix string, before, after *Address, track func(field, before, after string)) {
	var b, a Address
	if before != nil {
		b = *before
	}
	if after != nil {
		a = *after
	}
	track(prefix+".name", b.Name, a.Name)
	track(prefix+".street", b.Street, a.Street)
	track(prefix+".city", b.City, a.City)
	track(prefix+".zip", b.Zip, a.Zip)
	track(prefix+".country", b.Country, a.Country)
	track(prefix+".phone", b.Phone, a.Phone)
	track(prefix+".email", b.Email, a.Email)
	track(prefix+".note", b.Note, a.Note)
	track(prefix+".company_id", b.CompanyID, a.CompanyID)
	track(prefix+".vat_id", b.VATID, a.VATID)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
