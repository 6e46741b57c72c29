// Package checklist holds the user-curated set of labels watched for in detections.
package checklist

import (
	"errors"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dj-oyu/checklist-camera/internal/classtable"
)

var (
	// ErrNotAllowed rejects a label that is empty or unknown to the class table.
	ErrNotAllowed = errors.New("This object is not allowed.")
	// ErrDuplicate rejects a label already in the checklist.
	ErrDuplicate = errors.New("This object is already in the checklist.")
)

// Item is a checklist entry with its visual state.
type Item struct {
	Label   string `json:"label"`
	Matched bool   `json:"matched"`
}

// Store is an ordered set of unique labels. Safe for concurrent use.
type Store struct {
	classes *classtable.Table
	lower   cases.Caser

	mu    sync.RWMutex
	items []string
}

// NewStore returns an empty store validated against classes.
func NewStore(classes *classtable.Table) *Store {
	return &Store{
		classes: classes,
		lower:   cases.Lower(language.Und),
	}
}

// Add normalizes label to lower case and appends it.
// It returns the stored label, or ErrNotAllowed / ErrDuplicate with no state change.
func (s *Store) Add(label string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// cases.Caser is stateful; guarded by mu.
	item := s.lower.String(strings.TrimSpace(label))
	if item == "" || !s.classes.Contains(item) {
		return "", ErrNotAllowed
	}
	if lo.Contains(s.items, item) {
		return "", ErrDuplicate
	}
	s.items = append(s.items, item)
	return item, nil
}

// Reset empties the store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

// Items returns the labels in insertion order.
func (s *Store) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Contains(label string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Contains(s.items, label)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// View marks every item found in detected. Matched items stay in the list.
func (s *Store) View(detected []string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.items, func(label string, _ int) Item {
		return Item{Label: label, Matched: lo.Contains(detected, label)}
	})
}
