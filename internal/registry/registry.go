// Package registry holds the local, ordered view of crawl jobs
package registry

import (
	"sync"

	"github.com/celestiaorg/crawlctl/pkg/models"
)

// Registry is an ordered map of job id to job record. Order is insertion
// order until a full reload adopts the server's order.
type Registry struct {
	mu         sync.RWMutex
	order      []int64
	tasks      map[int64]models.CrawlTask
	inProgress map[int64]struct{}
	onChange   func(size int)
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		tasks:      make(map[int64]models.CrawlTask),
		inProgress: make(map[int64]struct{}),
	}
}

// OnChange registers a callback invoked with the new size after every mutation
func (r *Registry) OnChange(fn func(size int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// List returns the records in order
func (r *Registry) List() []models.CrawlTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.CrawlTask, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id])
	}
	return out
}

// Get returns the record for id
func (r *Registry) Get(id int64) (models.CrawlTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	return task, ok
}

// Len returns the number of records
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Upsert replaces the record in place when present, otherwise appends it
func (r *Registry) Upsert(task models.CrawlTask) {
	r.mu.Lock()
	if _, ok := r.tasks[task.ID]; !ok {
		r.order = append(r.order, task.ID)
	}
	r.tasks[task.ID] = task
	r.notifyLocked()
	r.mu.Unlock()
}

// Remove drops the record for id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	if _, ok := r.tasks[id]; ok {
		delete(r.tasks, id)
		delete(r.inProgress, id)
		for i, existing := range r.order {
			if existing == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.notifyLocked()
	}
	r.mu.Unlock()
}

// UpdateStatus changes only the status of an existing record and reports
// whether the record was found
func (r *Registry) UpdateStatus(id int64, status models.CrawlStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return false
	}
	task.Status = status
	r.tasks[id] = task
	return true
}

// Replace swaps the whole registry for the authoritative list and recomputes
// the in-progress set from it
func (r *Registry) Replace(tasks []models.CrawlTask) {
	order := make([]int64, 0, len(tasks))
	byID := make(map[int64]models.CrawlTask, len(tasks))
	inProgress := make(map[int64]struct{})
	for _, task := range tasks {
		if _, dup := byID[task.ID]; !dup {
			order = append(order, task.ID)
		}
		byID[task.ID] = task
		if task.Status == models.CrawlStatusInProgress {
			inProgress[task.ID] = struct{}{}
		}
	}

	r.mu.Lock()
	r.order = order
	r.tasks = byID
	r.inProgress = inProgress
	r.notifyLocked()
	r.mu.Unlock()
}

// InProgress returns the ids the last reload reported as in progress
func (r *Registry) InProgress() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int64, 0, len(r.inProgress))
	for _, id := range r.order {
		if _, ok := r.inProgress[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// IDs returns the ids in order
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.order...)
}

func (r *Registry) notifyLocked() {
	if r.onChange != nil {
		r.onChange(len(r.order))
	}
}
