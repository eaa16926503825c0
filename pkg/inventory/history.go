package inventory

import (
	"context"
	"time"
)

// EventAction names what happened to an entity
// エンティティに起きた変更の種類
type EventAction string

const (
	ActionCreated  EventAction = "created"
	ActionUpdated  EventAction = "updated"
	ActionDeleted  EventAction = "deleted"
	ActionAttached EventAction = "attached"
	ActionDetached EventAction = "detached"
)

// Event is emitted by every mutating step of the engine
// エンジンの変更処理ごとに発行されるイベント
type Event struct {
	ID          string      `json:"id"`
	Entity      EntityType  `json:"entity"`
	EntityID    string      `json:"entity_id"`
	Action      EventAction `json:"action"`
	Description string      `json:"description"`
	UserID      string      `json:"user_id,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// HistoryRecorder persists history entries inside the caller's transaction.
// A failed write fails the surrounding operation.
// 呼び出し元のトランザクション内で履歴を書き込む
type HistoryRecorder struct{}

// NewHistoryRecorder creates a new history recorder
func NewHistoryRecorder() *HistoryRecorder {
	return &HistoryRecorder{}
}

// Record appends one entry for the entity
// エンティティに履歴を1件追加
func (r *HistoryRecorder) Record(ctx context.Context, tx Tx, entity EntityType, entityID, description, userID string, at time.Time) (*HistoryEntry, error) {
	entry := &HistoryEntry{
		ID:          NewID(),
		EntityType:  entity,
		EntityID:    entityID,
		Description: description,
		UserID:      userID,
		CreatedAt:   at,
	}
	if err := tx.CreateHistory(ctx, entry); err != nil {
		return nil, wrapStorage("create_history", "履歴の記録に失敗しました", err)
	}
	return entry, nil
}

// Consume records the event as a history entry
func (r *HistoryRecorder) Consume(ctx context.Context, tx Tx, e Event) error {
	_, err := r.Record(ctx, tx, e.Entity, e.EntityID, e.Description, e.UserID, e.OccurredAt)
	return err
}

// session is the unit of work of a single engine call
type session struct {
	tx       Tx
	userID   string
	now      time.Time
	recorder *HistoryRecorder
	events   []Event
	stock    map[string]int64
}

func (s *session) emit(ctx context.Context, entity EntityType, entityID string, action EventAction, description string) error {
	e := Event{
		ID:          NewID(),
		Entity:      entity,
		EntityID:    entityID,
		Action:      action,
		Description: description,
		UserID:      s.userID,
		OccurredAt:  s.now,
	}
	if err := s.recorder.Consume(ctx, s.tx, e); err != nil {
		return err
	}
	s.events = append(s.events, e)
	return nil
}
