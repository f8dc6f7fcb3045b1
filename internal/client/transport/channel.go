// Package transport владеет дуплексным websocket соединением с
// коллаборативным сервером: подключение, реконнект с ограниченным числом
// попыток, heartbeat и доставка входящих событий контроллеру сессии.
//
// Машина состояний канала:
//
//	idle → connecting → connected → (disconnected ⇄ connecting) → failed
//
// failed — терминальное состояние после исчерпания попыток подключения;
// ошибка передается контроллеру сессии через Errors(), канал не повторяет
// попытки молча.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/iudanet/collabsync/internal/models"
	"github.com/iudanet/collabsync/pkg/api"
)

// State состояние канала.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

var (
	// ErrNotConnected означает попытку отправки при неактивном соединении.
	ErrNotConnected = errors.New("channel is not connected")

	// ErrReconnectFailed означает исчерпание попыток подключения;
	// канал в терминальном состоянии failed.
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")

	// ErrChannelClosed означает, что канал закрыт явным Disconnect.
	ErrChannelClosed = errors.New("channel is closed")
)

// Options параметры канала.
type Options struct {
	Enabled           bool
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	// AuthToken передается в заголовке при подключении (может быть пустым).
	AuthToken string
}

// Channel представляет websocket канал коллаборативной сессии.
// При Enabled=false все операции являются no-op.
type Channel struct {
	opts   Options
	local  *models.Participant
	logger *slog.Logger

	dialer *websocket.Dialer
	conn   *websocket.Conn
	state  State
	mu     sync.Mutex

	// events — входящие события для контроллера сессии
	events chan api.Event
	// errs — терминальные ошибки канала
	errs chan error
	// reconnected сигнализирует об успешном восстановлении соединения,
	// чтобы сессия переслала неподтвержденные шаги
	reconnected chan struct{}

	// writeMu сериализует запись: gorilla/websocket допускает
	// только одного писателя
	writeMu sync.Mutex

	heartbeatStop chan struct{}
	closed        chan struct{}
	closeOnce     sync.Once
}

// NewChannel создает канал для локального участника.
func NewChannel(opts Options, local *models.Participant, logger *slog.Logger) *Channel {
	return &Channel{
		opts:        opts,
		local:       local,
		logger:      logger,
		dialer:      websocket.DefaultDialer,
		state:       StateIdle,
		events:      make(chan api.Event, 64),
		errs:        make(chan error, 1),
		reconnected: make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

// State возвращает текущее состояние канала.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Events возвращает канал входящих событий.
func (c *Channel) Events() <-chan api.Event {
	return c.events
}

// Errors возвращает канал терминальных ошибок транспорта.
func (c *Channel) Errors() <-chan error {
	return c.errs
}

// Reconnected сигнализирует о восстановлении соединения после обрыва.
func (c *Channel) Reconnected() <-chan struct{} {
	return c.reconnected
}

// Connect устанавливает соединение с сервером.
// Попытки выполняются с фиксированной задержкой ReconnectDelay до
// ReconnectAttempts раз; после исчерпания канал переходит в failed.
func (c *Channel) Connect(ctx context.Context) error {
	if !c.opts.Enabled {
		return nil
	}

	if err := c.dial(ctx); err != nil {
		return err
	}

	// Вход локального участника объявляется при каждом подключении
	if err := c.sendJoin(); err != nil {
		c.logger.Warn("Failed to announce join", "error", err)
	}
	return nil
}

// dial выполняет попытки подключения и запускает циклы чтения и heartbeat.
func (c *Channel) dial(ctx context.Context) error {
	c.setState(StateConnecting)

	attempts := uint64(1)
	if c.opts.ReconnectAttempts > 1 {
		attempts = uint64(c.opts.ReconnectAttempts)
	}
	// Первая попытка + (attempts-1) повторов с фиксированной задержкой
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.ReconnectDelay), attempts-1),
		ctx,
	)

	var header http.Header
	if c.opts.AuthToken != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.opts.AuthToken}}
	}

	var conn *websocket.Conn
	operation := func() error {
		dialed, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			c.logger.Warn("Connection attempt failed",
				"url", c.opts.URL,
				"status", status,
				"error", err)
			return err
		}
		conn = dialed
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		select {
		case <-c.closed:
			// Явный Disconnect прервал переподключение: состояние не
			// терминальное, ошибка контроллеру не передается
			c.setState(StateDisconnected)
			return fmt.Errorf("%w: %w", ErrChannelClosed, err)
		default:
		}

		c.setState(StateFailed)
		wrapped := fmt.Errorf("%w: %w", ErrReconnectFailed, err)
		// Терминальная ошибка передается контроллеру сессии
		select {
		case c.errs <- wrapped:
		default:
		}
		return wrapped
	}

	c.mu.Lock()
	select {
	case <-c.closed:
		// Disconnect успел сработать между успешным dial и публикацией
		// соединения: новое соединение никому не принадлежит, закрываем
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		return ErrChannelClosed
	default:
	}
	c.conn = conn
	c.state = StateConnected
	c.heartbeatStop = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeatLoop(c.heartbeatStop)

	c.logger.Info("Channel connected", "url", c.opts.URL)
	return nil
}

// Send отправляет событие в канал.
func (c *Channel) Send(ev api.Event) error {
	if !c.opts.Enabled {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return fmt.Errorf("cannot send %s event: %w", ev.Type, ErrNotConnected)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("failed to send %s event: %w", ev.Type, err)
	}
	return nil
}

// Disconnect объявляет выход локального участника и закрывает соединение.
// Все таймеры heartbeat и реконнекта останавливаются; неподтвержденные
// шаги остаются в буфере обмена для повторной отправки.
func (c *Channel) Disconnect() error {
	if !c.opts.Enabled {
		return nil
	}

	// user-leave отправляется до закрытия соединения
	leave, err := api.NewEvent(api.EventUserLeave, c.local.ID, time.Now().UnixMilli(), nil)
	if err == nil {
		if sendErr := c.Send(leave); sendErr != nil && !errors.Is(sendErr, ErrNotConnected) {
			c.logger.Warn("Failed to announce leave", "error", sendErr)
		}
	}

	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}

// sendJoin объявляет вход локального участника.
func (c *Channel) sendJoin() error {
	join, err := api.NewEvent(api.EventUserJoin, c.local.ID, time.Now().UnixMilli(), api.JoinData{
		DisplayName: c.local.DisplayName,
		Color:       c.local.Color,
	})
	if err != nil {
		return err
	}
	return c.Send(join)
}

// readLoop читает входящие события до обрыва соединения.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var ev api.Event
		if err := conn.ReadJSON(&ev); err != nil {
			select {
			case <-c.closed:
				// Явный Disconnect, реконнект не нужен
				return
			default:
			}

			c.logger.Warn("Connection lost", "error", err)
			c.handleDisconnect()
			return
		}

		if !ev.Type.Valid() {
			c.logger.Warn("Dropping event of unknown type", "type", ev.Type)
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

// handleDisconnect переводит канал в disconnected и пытается восстановить
// соединение. Исчерпание попыток делает состояние терминальным.
func (c *Channel) handleDisconnect() {
	c.mu.Lock()
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	select {
	case <-c.closed:
		// Канал закрыт явным Disconnect, переподключение не нужно
		return
	default:
	}

	// Редиал живет не дольше канала: Disconnect отменяет ожидающие
	// попытки вместе с их таймерами
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := c.dial(ctx); err != nil {
		// Состояние и ошибка уже зафиксированы в dial
		return
	}

	if err := c.sendJoin(); err != nil {
		c.logger.Warn("Failed to announce join after reconnect", "error", err)
	}

	// Сигнал сессии: можно пересылать неподтвержденные шаги
	select {
	case c.reconnected <- struct{}{}:
	default:
	}
}

// heartbeatLoop отправляет heartbeat с заданным интервалом, пока
// соединение активно.
func (c *Channel) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hb, err := api.NewEvent(api.EventHeartbeat, c.local.ID, time.Now().UnixMilli(), nil)
			if err != nil {
				continue
			}
			if err := c.Send(hb); err != nil {
				// Обрыв обнаружит и обработает цикл чтения
				c.logger.Debug("Heartbeat send failed", "error", err)
			}
		case <-stop:
			return
		case <-c.closed:
			return
		}
	}
}

// setState устанавливает состояние канала.
func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
