package models

import (
	"encoding/json"
	"time"
)

// Participant представляет участника коллаборативной сессии.
// Создается по событию user-join, обновляется каждым событием присутствия,
// удаляется по user-leave или по таймауту активности.
type Participant struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Color       string          `json:"color"`
	Cursor      *CursorState    `json:"cursor,omitempty"`
	Selection   *SelectionState `json:"selection,omitempty"`
	LastSeen    time.Time       `json:"last_seen"`
	Online      bool            `json:"online"`
}

// CursorState позиция курсора участника. Эфемерные UI метаданные:
// последняя запись побеждает, порядок доставки не важен.
type CursorState struct {
	Position int `json:"position"`
}

// SelectionState выделение участника.
type SelectionState struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Clone создает копию участника вместе с вложенным состоянием курсора.
func (p *Participant) Clone() *Participant {
	c := *p
	if p.Cursor != nil {
		cur := *p.Cursor
		c.Cursor = &cur
	}
	if p.Selection != nil {
		sel := *p.Selection
		c.Selection = &sel
	}
	return &c
}

// Step представляет одну атомарную локальную мутацию документа,
// реплицируемую участникам. Payload непрозрачен для ядра; структуру
// шага определяет модель документа. Step неизменяем после создания.
type Step struct {
	ID            string          `json:"id"`
	OriginatorID  string          `json:"originator_id"`
	OriginVersion uint64          `json:"origin_version"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Clone создает глубокую копию шага.
func (s *Step) Clone() *Step {
	payload := make(json.RawMessage, len(s.Payload))
	copy(payload, s.Payload)

	return &Step{
		ID:            s.ID,
		OriginatorID:  s.OriginatorID,
		OriginVersion: s.OriginVersion,
		Payload:       payload,
		CreatedAt:     s.CreatedAt,
	}
}

// Content снимок содержимого документа в виде набора полей.
// Поле "content" содержит текстовое тело, остальные поля — метаданные
// (title и т.п.) либо вложенные структуры.
type Content map[string]any

// Clone создает поверхностную копию верхнего уровня снимка.
// Вложенные значения не копируются: резолвер никогда не мутирует входы,
// а создает новые значения на изменяемых путях.
func (c Content) Clone() Content {
	out := make(Content, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// SaveState представляет состояние одной попытки сохранения.
// Последний подтвержденный SaveState хранится для сравнения при
// обнаружении конфликтов; вытесненные состояния отбрасываются.
type SaveState struct {
	ContentID string    `json:"content_id"`
	Content   Content   `json:"content"`
	AuthorID  string    `json:"author_id"`
	Version   uint64    `json:"version"`
	Checksum  string    `json:"checksum"`
	Timestamp time.Time `json:"timestamp"`
}

// ConflictKind классифицирует расхождение по полю.
type ConflictKind string

const (
	ConflictContent   ConflictKind = "content"
	ConflictMetadata  ConflictKind = "metadata"
	ConflictStructure ConflictKind = "structure"
)

// ConflictDetail описывает одно расхождение между локальным и удаленным
// состоянием по конкретному пути.
type ConflictDetail struct {
	Path        string       `json:"path"`
	LocalValue  any          `json:"local_value"`
	RemoteValue any          `json:"remote_value"`
	Kind        ConflictKind `json:"kind"`
}

// ConflictInfo представляет обнаруженный конфликт сохранения.
// Транзиентная структура: строится при обработке конфликта
// и отбрасывается после разрешения.
type ConflictInfo struct {
	Local     *SaveState       `json:"local"`
	Remote    *SaveState       `json:"remote"`
	Conflicts []ConflictDetail `json:"conflicts"`
}

// ResolutionMode определяет стратегию разрешения конфликтов.
type ResolutionMode string

const (
	// ResolutionOverwrite отбрасывает локальное состояние в пользу удаленного.
	ResolutionOverwrite ResolutionMode = "overwrite"
	// ResolutionManual возвращает конфликт вызывающей стороне без повтора
	// сохранения; требуется явное решение.
	ResolutionManual ResolutionMode = "manual"
	// ResolutionMerge выполняет пофайловое слияние: текст через маркеры
	// конфликтов, метаданные — remote wins, структуры — shallow merge.
	ResolutionMerge ResolutionMode = "merge"
)
