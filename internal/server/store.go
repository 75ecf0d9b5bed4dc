package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/CK6170/EposForce-go/matrix"
	"github.com/CK6170/EposForce-go/models"
)

type recordKind string

const (
	kindConfig      recordKind = "config"
	kindCalibration recordKind = "calibration"
	kindLog         recordKind = "log"
)

// StoredRecord is an uploaded file or a produced log held in memory.
type StoredRecord struct {
	ID   string
	Kind recordKind
	Name string
	Raw  []byte

	P       *models.PARAMETERS  // kindConfig
	Cal     *matrix.Calibration // kindCalibration
	Records []models.Record     // kindLog
}

type Store struct {
	mu sync.RWMutex
	m  map[string]*StoredRecord
}

func NewStore() *Store {
	return &Store{m: make(map[string]*StoredRecord)}
}

func (s *Store) Put(rec *StoredRecord) (*StoredRecord, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	rec.ID = id
	s.mu.Lock()
	s.m[id] = rec
	s.mu.Unlock()
	return rec, nil
}

func (s *Store) Get(id string) (*StoredRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[id]
	return r, ok
}

func newID() (string, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
