package server

import (
	"sync"

	"github.com/CK6170/Sorensen-go/models"
	"github.com/google/uuid"
)

type ConfigRecord struct {
	ID   string
	Name string
	Raw  []byte
	P    *models.PARAMETERS
}

type ConfigStore struct {
	mu sync.RWMutex
	m  map[string]*ConfigRecord
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{m: make(map[string]*ConfigRecord)}
}

func (s *ConfigStore) Put(name string, raw []byte, p *models.PARAMETERS) *ConfigRecord {
	rec := &ConfigRecord{ID: uuid.NewString(), Name: name, Raw: raw, P: p}
	s.mu.Lock()
	s.m[rec.ID] = rec
	s.mu.Unlock()
	return rec
}

func (s *ConfigStore) Get(id string) (*ConfigRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[id]
	return r, ok
}
