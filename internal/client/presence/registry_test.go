package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/collabsync/internal/models"
)

func newTestRegistry(now time.Time) *Registry {
	r := NewRegistry(5 * time.Minute)
	r.now = func() time.Time { return now }
	return r
}

func TestRegistry_UpsertAndGet(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(now)

	r.Upsert(&models.Participant{ID: "u1", DisplayName: "Alice", LastSeen: now, Online: true})

	p := r.Get("u1")
	require.NotNil(t, p)
	assert.Equal(t, "Alice", p.DisplayName)

	// Get возвращает копию: мутация результата не влияет на реестр
	p.DisplayName = "Mallory"
	assert.Equal(t, "Alice", r.Get("u1").DisplayName)
}

func TestRegistry_CursorLastWriteWins(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(now)

	r.Upsert(&models.Participant{ID: "u1", LastSeen: now, Online: true})
	r.SetCursor("u1", models.CursorState{Position: 5}, now)
	r.SetCursor("u1", models.CursorState{Position: 9}, now.Add(time.Second))

	p := r.Get("u1")
	require.NotNil(t, p.Cursor)
	assert.Equal(t, 9, p.Cursor.Position)
}

func TestRegistry_TouchUnknownParticipant(t *testing.T) {
	r := newTestRegistry(time.Now())

	// Присутствие создается только явным user-join
	r.Touch("ghost", time.Now())
	assert.Nil(t, r.Get("ghost"))
}

func TestRegistry_ListOnlineOnly_ExcludesStale(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(now)

	// Heartbeat прекратился 6 минут назад — за пределами 5-минутного окна
	r.Upsert(&models.Participant{ID: "stale", LastSeen: now.Add(-6 * time.Minute), Online: true})
	r.Upsert(&models.Participant{ID: "fresh", LastSeen: now.Add(-time.Minute), Online: true})
	r.Upsert(&models.Participant{ID: "left", LastSeen: now, Online: false})

	online := r.List(true)
	require.Len(t, online, 1)
	assert.Equal(t, "fresh", online[0].ID)

	// Без фильтра видны все, включая устаревших
	all := r.List(false)
	assert.Len(t, all, 3)
}

func TestRegistry_TouchRestoresOnline(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(now)

	r.Upsert(&models.Participant{ID: "u1", LastSeen: now.Add(-10 * time.Minute), Online: true})
	require.Empty(t, r.List(true))

	r.Touch("u1", now)
	assert.Len(t, r.List(true), 1)
}

func TestRegistry_Remove(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(now)

	r.Upsert(&models.Participant{ID: "u1", LastSeen: now, Online: true})
	r.Remove("u1")

	assert.Nil(t, r.Get("u1"))
	assert.Empty(t, r.List(false))
}

func TestRegistry_ListSortedByID(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(now)

	r.Upsert(&models.Participant{ID: "b", LastSeen: now, Online: true})
	r.Upsert(&models.Participant{ID: "a", LastSeen: now, Online: true})
	r.Upsert(&models.Participant{ID: "c", LastSeen: now, Online: true})

	list := r.List(false)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "c", list[2].ID)
}
