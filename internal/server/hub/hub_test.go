package hub

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/collabsync/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitEvent(t *testing.T, sub *Subscriber) api.Event {
	t.Helper()

	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
		return api.Event{}
	}
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h := New(nil, testLogger())
	ctx := context.Background()

	alice := h.Join(ctx, "doc-1", "user-alice")
	bob := h.Join(ctx, "doc-1", "user-bob")
	defer h.Leave("doc-1", alice)
	defer h.Leave("doc-1", bob)

	ev, err := api.NewEvent(api.EventCursor, "user-alice", time.Now().UnixMilli(), api.CursorData{Position: 5})
	require.NoError(t, err)
	require.NoError(t, h.Broadcast(ctx, "doc-1", ev, alice))

	got := waitEvent(t, bob)
	assert.Equal(t, api.EventCursor, got.Type)
	assert.Equal(t, "user-alice", got.UserID)

	// Отправитель не получает собственное событие
	select {
	case <-alice.Events():
		t.Fatal("sender must not receive own event")
	default:
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	h := New(nil, testLogger())
	ctx := context.Background()

	alice := h.Join(ctx, "doc-1", "user-alice")
	carol := h.Join(ctx, "doc-2", "user-carol")
	defer h.Leave("doc-1", alice)
	defer h.Leave("doc-2", carol)

	ev, err := api.NewEvent(api.EventHeartbeat, "user-alice", time.Now().UnixMilli(), nil)
	require.NoError(t, err)
	require.NoError(t, h.Broadcast(ctx, "doc-1", ev, alice))

	select {
	case <-carol.Events():
		t.Fatal("event leaked into another room")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_LateJoinerReceivesRoster(t *testing.T) {
	h := New(nil, testLogger())
	ctx := context.Background()

	alice := h.Join(ctx, "doc-1", "user-alice")
	defer h.Leave("doc-1", alice)

	join, err := api.NewEvent(api.EventUserJoin, "user-alice", time.Now().UnixMilli(), api.JoinData{
		DisplayName: "Alice",
		Color:       "#f00",
	})
	require.NoError(t, err)
	require.NoError(t, h.Broadcast(ctx, "doc-1", join, alice))

	// Подключившийся позже участник узнает об уже присутствующих
	bob := h.Join(ctx, "doc-1", "user-bob")
	defer h.Leave("doc-1", bob)

	got := waitEvent(t, bob)
	assert.Equal(t, api.EventUserJoin, got.Type)
	assert.Equal(t, "user-alice", got.UserID)

	var data api.JoinData
	require.NoError(t, got.DecodeData(&data))
	assert.Equal(t, "Alice", data.DisplayName)
}

func TestHub_RosterSkipsUnannouncedMembers(t *testing.T) {
	h := New(nil, testLogger())
	ctx := context.Background()

	// Участник подключился, но еще не объявил себя
	alice := h.Join(ctx, "doc-1", "user-alice")
	defer h.Leave("doc-1", alice)

	bob := h.Join(ctx, "doc-1", "user-bob")
	defer h.Leave("doc-1", bob)

	select {
	case ev := <-bob.Events():
		t.Fatalf("unexpected roster event: %v", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RedisFanOutBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdbA.Close()
		_ = rdbB.Close()
	})

	ctx := context.Background()
	hubA := New(rdbA, testLogger())
	hubB := New(rdbB, testLogger())

	alice := hubA.Join(ctx, "doc-1", "user-alice")
	bob := hubB.Join(ctx, "doc-1", "user-bob")
	defer hubA.Leave("doc-1", alice)
	defer hubB.Leave("doc-1", bob)

	// Подписка pub/sub устанавливается асинхронно
	time.Sleep(50 * time.Millisecond)

	ev, err := api.NewEvent(api.EventStep, "user-alice", time.Now().UnixMilli(), api.StepData{
		StepID:        "step-1",
		OriginVersion: 0,
		Payload:       []byte(`{"insert":"hi"}`),
	})
	require.NoError(t, err)
	require.NoError(t, hubA.Broadcast(ctx, "doc-1", ev, alice))

	got := waitEvent(t, bob)
	assert.Equal(t, api.EventStep, got.Type)
	assert.Equal(t, "user-alice", got.UserID)
}
