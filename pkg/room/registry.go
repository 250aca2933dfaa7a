package room

import (
	"context"
	"sync"

	"github.com/wikiracing-llms/wikirace/pkg/models"
)

// entry pairs a room with the mutex serializing its state changes.
type entry struct {
	mu   sync.Mutex
	room *models.Room
}

// TaskHandle identifies one tracked executor so a finished executor only
// removes its own registration, never a successor's.
type TaskHandle struct {
	cancel context.CancelFunc
}

// Registry owns every live room, the per-room locks, and the cancel
// handles of running LLM executors. Membership is guarded by one coarse
// lock; room state by the per-room mutex.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*entry

	taskMu sync.Mutex
	tasks  map[string]map[string]*TaskHandle // room id → run id → handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*entry),
		tasks: make(map[string]map[string]*TaskHandle),
	}
}

// Install adds a room under a fresh lock. It reports false when the id is
// already taken.
func (r *Registry) Install(room *models.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[room.ID]; exists {
		return false
	}
	r.rooms[room.ID] = &entry{room: room}
	return true
}

// WithRoom runs fn while holding the room's lock; fn may mutate the room.
// Returns ErrRoomNotFound when the id has no live entry, including rooms
// reaped while the caller waited for the lock.
func (r *Registry) WithRoom(id string, fn func(*models.Room) error) error {
	r.mu.RLock()
	e, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.RLock()
	cur, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok || cur != e {
		return ErrRoomNotFound
	}
	return fn(e.room)
}

// Snapshot returns a deep copy of the room.
func (r *Registry) Snapshot(id string) (*models.Room, error) {
	var snap *models.Room
	err := r.WithRoom(id, func(room *models.Room) error {
		snap = room.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Delete removes the room and cancels any executors it still owns.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, ok := r.rooms[id]
	delete(r.rooms, id)
	r.mu.Unlock()
	if ok {
		r.CancelRoomTasks(id)
	}
	return ok
}

// IDs returns the ids of all live rooms.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RegisterTask tracks the cancel handle for a run's executor. A previous
// handle for the same run is cancelled first, keeping at most one live
// executor per run.
func (r *Registry) RegisterTask(roomID, runID string, cancel context.CancelFunc) *TaskHandle {
	h := &TaskHandle{cancel: cancel}
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	m := r.tasks[roomID]
	if m == nil {
		m = make(map[string]*TaskHandle)
		r.tasks[roomID] = m
	}
	if prev, ok := m[runID]; ok {
		prev.cancel()
	}
	m[runID] = h
	return h
}

// ReleaseTask drops the registration if h is still the tracked handle.
func (r *Registry) ReleaseTask(roomID, runID string, h *TaskHandle) {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	if m := r.tasks[roomID]; m != nil && m[runID] == h {
		delete(m, runID)
		if len(m) == 0 {
			delete(r.tasks, roomID)
		}
	}
}

// CancelTask stops the tracked executor for a run, if any.
func (r *Registry) CancelTask(roomID, runID string) {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	if m := r.tasks[roomID]; m != nil {
		if h, ok := m[runID]; ok {
			h.cancel()
			delete(m, runID)
			if len(m) == 0 {
				delete(r.tasks, roomID)
			}
		}
	}
}

// CancelRoomTasks stops every tracked executor in the room.
func (r *Registry) CancelRoomTasks(roomID string) {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	for _, h := range r.tasks[roomID] {
		h.cancel()
	}
	delete(r.tasks, roomID)
}

// TaskCount reports the number of tracked executors.
func (r *Registry) TaskCount() int {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	n := 0
	for _, m := range r.tasks {
		n += len(m)
	}
	return n
}
