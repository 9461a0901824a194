package cellcache

import (
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	h3 "github.com/uber/h3-go/v4"
)

// LRUStore is an in-process Store. TTLs are ignored; eviction is purely by
// recency.
type LRUStore struct {
	lru *lru.Cache[string, []h3.Cell]
}

func NewLRUStore(size int) *LRUStore {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, []h3.Cell](size)
	return &LRUStore{lru: c}
}

func (s *LRUStore) Get(key string) ([]h3.Cell, bool) {
	cells, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(cells), true
}

func (s *LRUStore) Set(key string, cells []h3.Cell, _ time.Duration) {
	s.lru.Add(key, slices.Clone(cells))
}
