// Package presence отслеживает участников коллаборативной сессии
// и их эфемерное состояние (курсор, выделение, активность).
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/iudanet/collabsync/internal/models"
)

// Registry представляет реестр участников сессии.
// "Online" — предикат времени чтения: online == true И now-LastSeen < window.
// Фоновая очистка не требуется, устаревание вычисляется лениво при запросе.
type Registry struct {
	participants map[string]*models.Participant // map[id]participant
	window       time.Duration
	now          func() time.Time
	mu           sync.RWMutex
}

// NewRegistry создает реестр с заданным окном активности.
func NewRegistry(onlineWindow time.Duration) *Registry {
	return &Registry{
		participants: make(map[string]*models.Participant),
		window:       onlineWindow,
		now:          time.Now,
	}
}

// Upsert добавляет участника или безусловно перезаписывает его состояние.
// Курсор и выделение — last-write-wins на каждого участника.
func (r *Registry) Upsert(p *models.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.participants[p.ID] = p.Clone()
}

// Remove удаляет участника из реестра (событие user-leave).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.participants, id)
}

// Touch обновляет отметку активности участника по любому входящему
// событию от него (включая heartbeat). Неизвестный id игнорируется:
// присутствие создается только явным user-join.
func (r *Registry) Touch(id string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return
	}
	if ts.After(p.LastSeen) {
		p.LastSeen = ts
	}
	p.Online = true
}

// SetCursor обновляет позицию курсора участника.
func (r *Registry) SetCursor(id string, cursor models.CursorState, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return
	}
	p.Cursor = &cursor
	if ts.After(p.LastSeen) {
		p.LastSeen = ts
	}
	p.Online = true
}

// SetSelection обновляет выделение участника.
func (r *Registry) SetSelection(id string, sel models.SelectionState, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return
	}
	p.Selection = &sel
	if ts.After(p.LastSeen) {
		p.LastSeen = ts
	}
	p.Online = true
}

// Get возвращает копию участника по id.
func (r *Registry) Get(id string) *models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return nil
	}
	return p.Clone()
}

// List возвращает участников, отсортированных по id.
// При onlineOnly участники без heartbeat в пределах окна исключаются,
// явный Remove для этого не требуется.
func (r *Registry) List(onlineOnly bool) []*models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	result := make([]*models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if onlineOnly && !r.isOnline(p, now) {
			continue
		}
		result = append(result, p.Clone())
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// isOnline вычисляет предикат активности на момент now.
func (r *Registry) isOnline(p *models.Participant, now time.Time) bool {
	return p.Online && now.Sub(p.LastSeen) < r.window
}
