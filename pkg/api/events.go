package api

import (
	"encoding/json"
	"fmt"
)

// EventType определяет тип события в коллаборативном канале.
// Диспетчеризация по типу должна быть исчерпывающей (switch по всем
// константам), чтобы исключить ошибки строковой маршрутизации.
type EventType string

const (
	EventStep      EventType = "step"
	EventCursor    EventType = "cursor"
	EventSelection EventType = "selection"
	EventUserJoin  EventType = "user-join"
	EventUserLeave EventType = "user-leave"
	EventHeartbeat EventType = "heartbeat"
)

// Valid проверяет, что тип события известен протоколу.
func (t EventType) Valid() bool {
	switch t {
	case EventStep, EventCursor, EventSelection,
		EventUserJoin, EventUserLeave, EventHeartbeat:
		return true
	}
	return false
}

// Event представляет конверт события, передаваемого по websocket каналу.
// Data интерпретируется в зависимости от Type; собственные события
// (UserID == локальный участник) игнорируются при получении (echo suppression).
type Event struct {
	Type      EventType       `json:"type"`
	UserID    string          `json:"user_id"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// StepData полезная нагрузка события step.
// Payload непрозрачен для ядра синхронизации: структуру шага определяет
// модель документа, которая находится за пределами этого модуля.
type StepData struct {
	StepID        string          `json:"step_id"`
	OriginVersion uint64          `json:"origin_version"`
	Payload       json.RawMessage `json:"payload"`
}

// CursorData полезная нагрузка события cursor.
type CursorData struct {
	Position int `json:"position"`
}

// SelectionData полезная нагрузка события selection.
type SelectionData struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// JoinData полезная нагрузка события user-join.
type JoinData struct {
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

// NewEvent создает конверт события с сериализованной полезной нагрузкой.
func NewEvent(t EventType, userID string, ts int64, data any) (Event, error) {
	ev := Event{Type: t, UserID: userID, Timestamp: ts}
	if data == nil {
		return ev, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	ev.Data = raw
	return ev, nil
}

// DecodeData десериализует полезную нагрузку события в dst.
func (e Event) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s event data: %w", e.Type, err)
	}
	return nil
}
