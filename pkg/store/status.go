package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Status is the annotation state of a session.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusBad     Status = "bad"
)

// Mark is a short textual marker used in session lists.
func (s Status) Mark() string {
	switch s {
	case StatusDone:
		return "[done]"
	case StatusBad:
		return "[bad]"
	default:
		return "[    ]"
	}
}

// Counts summarises a status book against the number of known sessions.
type Counts struct {
	Done    int `json:"done"`
	Bad     int `json:"bad"`
	Pending int `json:"pending"`
	Total   int `json:"total"`
}

// StatusBook is a JSON file mapping session id to status. Every change is
// written through to disk.
type StatusBook struct {
	path string

	mu     sync.RWMutex
	status map[string]Status
}

// OpenStatusBook loads path; a missing file starts an empty book.
func OpenStatusBook(path string) (*StatusBook, error) {
	b := &StatusBook{path: path, status: make(map[string]Status)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}
	if err := json.Unmarshal(data, &b.status); err != nil {
		return nil, fmt.Errorf("failed to parse status file %s: %w", path, err)
	}
	return b, nil
}

// Get returns the status of id, pending when unknown.
func (b *StatusBook) Get(id string) Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.status[id]; ok {
		return s
	}
	return StatusPending
}

// Set records the status of id and saves the book.
func (b *StatusBook) Set(id string, s Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status[id] = s
	return b.save()
}

func (b *StatusBook) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	data, err := json.MarshalIndent(b.status, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return nil
}

// Counts returns done and bad counts from the book; pending is the remainder of
// total.
func (b *StatusBook) Counts(total int) Counts {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c := Counts{Total: total}
	for _, s := range b.status {
		switch s {
		case StatusDone:
			c.Done++
		case StatusBad:
			c.Bad++
		}
	}
	c.Pending = total - c.Done - c.Bad
	return c
}
