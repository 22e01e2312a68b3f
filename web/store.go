package web

import (
	"sync"

	"bandshort/runner"
)

const defaultStoreSize = 100

// ResultStore 保存最近的回测结果，超出容量时淘汰最早的
type ResultStore struct {
	mu      sync.RWMutex
	reports map[string]*runner.Report
	order   []string
	limit   int
}

// NewResultStore 创建结果缓存
func NewResultStore(limit int) *ResultStore {
	if limit <= 0 {
		limit = defaultStoreSize
	}
	return &ResultStore{reports: make(map[string]*runner.Report), limit: limit}
}

// Put 保存结果
func (s *ResultStore) Put(r *runner.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.RunID]; !ok {
		s.order = append(s.order, r.RunID)
	}
	s.reports[r.RunID] = r
	for len(s.order) > s.limit {
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
}

// Get 按 run id 查询
func (s *ResultStore) Get(runID string) (*runner.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[runID]
	return r, ok
}

// List 最近的结果，新的在前
func (s *ResultStore) List() []*runner.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*runner.Report, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.reports[s.order[i]])
	}
	return out
}
