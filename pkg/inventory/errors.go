package inventory

import (
	"errors"
	"fmt"
)

// Common inventory errors
// 共通の在庫エラー定義

var (
	// ErrInvalidQuantity is returned when a quantity is zero or negative
	// 数量が0以下の場合のエラー
	ErrInvalidQuantity = errors.New("数量は正の値である必要があります")

	// ErrDuplicateLot is returned when an inbound operation already holds the lot
	// 入庫オペレーションが既に同じロットを持つ場合のエラー
	ErrDuplicateLot = errors.New("ロットは既にこのオペレーションに登録されています")

	// ErrInsufficientStock is returned when there's not enough stock
	// 在庫不足の場合のエラー
	ErrInsufficientStock = errors.New("在庫が不足しています")

	// ErrNotFound is returned when a referenced record doesn't exist
	// 参照先が存在しない場合のエラー
	ErrNotFound = errors.New("対象が見つかりません")

	// ErrInvalidTransition is returned for a status change outside the workflow graph
	// ワークフローで許可されていないステータス遷移のエラー
	ErrInvalidTransition = errors.New("無効なステータス遷移です")

	// ErrIllegalState is returned when an operation's state forbids the action
	// オペレーションの状態により操作が許可されない場合のエラー
	ErrIllegalState = errors.New("現在の状態ではこの操作は許可されていません")

	// ErrConflict is returned when a record is shared and cannot be removed
	// 共有されているため削除できない場合のエラー
	ErrConflict = errors.New("他のオペレーションと競合しています")

	// ErrInvalidSplit is returned when a split would leave an empty group
	// 分割後に空のグループが生じる場合のエラー
	ErrInvalidSplit = errors.New("無効な分割数量です")

	// ErrDuplicateRecord is returned by storage on unique constraint violations
	// 一意制約違反
	ErrDuplicateRecord = errors.New("既に存在します")
)

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
	Cause   error  `json:"-"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

func (e ValidationError) Unwrap() error {
	return e.Cause
}

// BusinessRuleError represents a business rule violation
// ビジネスルール違反を表現
type BusinessRuleError struct {
	Rule    string `json:"rule"`    // ルール名
	Message string `json:"message"` // エラーメッセージ
	Context string `json:"context"` // コンテキスト情報
	Cause   error  `json:"-"`
}

func (e BusinessRuleError) Error() string {
	return fmt.Sprintf("ビジネスルール違反 [%s]: %s (コンテキスト: %s)", e.Rule, e.Message, e.Context)
}

func (e BusinessRuleError) Unwrap() error {
	return e.Cause
}

// NotFoundError names the missing record
// 見つからないレコードを示すエラー
type NotFoundError struct {
	Entity EntityType `json:"entity"`
	ID     string     `json:"id"`
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s が見つかりません", e.Entity, e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InsufficientStockError reports requested vs available quantity
// 要求数量と利用可能数量を含む在庫不足エラー
type InsufficientStockError struct {
	ProductID string `json:"product_id"`
	LotNumber string `json:"lot_number,omitempty"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("在庫が不足しています: 商品 %s (要求: %d, 利用可能: %d)", e.ProductID, e.Requested, e.Available)
}

func (e InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// TransitionError reports a status change that the workflow does not allow
type TransitionError struct {
	OperationID string          `json:"operation_id"`
	From        OperationStatus `json:"from"`
	To          OperationStatus `json:"to"`
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("無効なステータス遷移です: %s (%s -> %s)", e.OperationID, e.From, e.To)
}

func (e TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StateError reports an action rejected because of the operation's current status
// 現在のステータスにより拒否された操作
type StateError struct {
	OperationID string          `json:"operation_id"`
	Status      OperationStatus `json:"status"`
	Action      string          `json:"action"`
}

func (e StateError) Error() string {
	return fmt.Sprintf("オペレーション %s はステータス %s のため %s できません", e.OperationID, e.Status, e.Action)
}

func (e StateError) Is(target error) bool {
	return target == ErrIllegalState
}

// ConflictError reports a stock group shared with another operation
// 他オペレーションと共有されたストックグループ
type ConflictError struct {
	OperationID string `json:"operation_id"`
	GroupID     string `json:"group_id"`
	Message     string `json:"message"`
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("競合エラー [%s:%s]: %s", e.OperationID, e.GroupID, e.Message)
}

func (e ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// LineError wraps the failure of one operation line
// 明細行の失敗をラップ
type LineError struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id"`
	Err       error  `json:"-"`
}

func (e LineError) Error() string {
	return fmt.Sprintf("明細 %d (商品 %s): %v", e.Index, e.ProductID, e.Err)
}

func (e LineError) Unwrap() error {
	return e.Err
}

// ConcurrencyError represents a concurrency-related error
// 同時実行関連のエラーを表現
type ConcurrencyError struct {
	Operation string `json:"operation"` // 操作名
	Resource  string `json:"resource"`  // リソース
	Message   string `json:"message"`   // エラーメッセージ
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("同時実行エラー [%s:%s]: %s", e.Operation, e.Resource, e.Message)
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewQuantityError creates the validation error for a non-positive quantity
// 0以下の数量に対するバリデーションエラーを作成
func NewQuantityError(quantity int64) *ValidationError {
	return &ValidationError{
		Field:   "quantity",
		Message: "数量は正の値である必要があります",
		Value:   fmt.Sprintf("%d", quantity),
		Cause:   ErrInvalidQuantity,
	}
}

// NewBusinessRuleError creates a new business rule error
// 新しいビジネスルールエラーを作成
func NewBusinessRuleError(rule, message, context string, cause error) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
		Cause:   cause,
	}
}

// NewNotFoundError creates a new not-found error
func NewNotFoundError(entity EntityType, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// NewConcurrencyError creates a new concurrency error
// 新しい同時実行エラーを作成
func NewConcurrencyError(operation, resource, message string) *ConcurrencyError {
	return &ConcurrencyError{
		Operation: operation,
		Resource:  resource,
		Message:   message,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// wrapStorage passes domain errors through and wraps everything else in a StorageError
func wrapStorage(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	var sErr *StorageError
	var cErr *ConcurrencyError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateRecord),
		errors.As(err, &sErr), errors.As(err, &cErr):
		return err
	}
	return NewStorageError(operation, message, err)
}
