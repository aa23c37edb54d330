package upload

import (
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// Registry набор выполняющихся передач.
// Хост опрашивает его перед закрытием, чтобы предупредить о незавершенных загрузках.
type Registry struct {
	mu   sync.RWMutex
	jobs map[*Job]struct{}
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[*Job]struct{})}
}

// Register добавляет передачу в реестр
func (r *Registry) Register(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job] = struct{}{}
}

// Deregister удаляет передачу из реестра
func (r *Registry) Deregister(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, job)
}

// IsEmpty сообщает, что активных передач нет
func (r *Registry) IsEmpty() bool {
	return r.Count() == 0
}

// Count возвращает количество активных передач
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Active возвращает отсортированные идентификаторы активных передач
func (r *Registry) Active() []string {
	r.mu.RLock()
	jobs := maps.Keys(r.jobs)
	r.mu.RUnlock()

	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	sort.Strings(ids)
	return ids
}
