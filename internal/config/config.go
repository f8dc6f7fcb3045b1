package config

import (
	"time"

	"github.com/iudanet/collabsync/internal/models"
)

// Значения по умолчанию для коллаборативной сессии.
const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultOnlineWindow      = 5 * time.Minute
	DefaultDebounceDelay     = 2 * time.Second
	DefaultRetryAttempts     = 3
	DefaultRetryDelay        = time.Second
	DefaultMaxVersionSkew    = 10
)

// Config задает параметры коллаборативной сессии.
// Zero value после Normalize дает рабочую конфигурацию с выключенным
// транспортом (Enabled = false → все сетевые операции no-op).
type Config struct {
	// Enabled включает realtime транспорт. При false канал создается,
	// но все его операции являются no-op.
	Enabled bool

	// WebsocketURL адрес коллаборативного сервера (ws:// или wss://).
	WebsocketURL string

	// UploadURL базовый адрес HTTP API сохранения (conflict-check, autosave).
	UploadURL string

	// ReconnectAttempts максимальное число попыток подключения,
	// после исчерпания канал переходит в терминальное состояние failed.
	ReconnectAttempts int

	// ReconnectDelay фиксированная задержка между попытками подключения.
	ReconnectDelay time.Duration

	// HeartbeatInterval период отправки heartbeat при активном соединении.
	HeartbeatInterval time.Duration

	// OnlineWindow окно активности: участник считается online, если
	// последнее событие от него было не раньше чем now - OnlineWindow.
	OnlineWindow time.Duration

	// DebounceDelay тихий период перед автосохранением после локальной правки.
	DebounceDelay time.Duration

	// ConflictResolution стратегия разрешения конфликтов сохранения.
	ConflictResolution models.ResolutionMode

	// RetryAttempts число повторов неудачного сохранения.
	RetryAttempts int

	// RetryDelay базовая задержка повтора; фактическая = RetryDelay * номер попытки.
	RetryDelay time.Duration

	// MaxVersionSkew допустимое отставание origin-версии удаленного шага
	// от последнего шага другого автора, прежде чем шаг считается конфликтным.
	MaxVersionSkew uint64
}

// Normalize заполняет нулевые поля значениями по умолчанию.
func (c *Config) Normalize() {
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.OnlineWindow <= 0 {
		c.OnlineWindow = DefaultOnlineWindow
	}
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = DefaultDebounceDelay
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxVersionSkew == 0 {
		c.MaxVersionSkew = DefaultMaxVersionSkew
	}

	// Неизвестный режим трактуем как manual: конфликт отдается вызывающей
	// стороне, автоматический повтор сохранения не выполняется.
	switch c.ConflictResolution {
	case models.ResolutionOverwrite, models.ResolutionManual, models.ResolutionMerge:
	default:
		c.ConflictResolution = models.ResolutionManual
	}
}
