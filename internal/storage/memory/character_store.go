// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/taleon-tracker/internal/store"
	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

// CharacterStore keeps characters and history in maps. Transactions work on a
// private copy of the state that replaces the live state only on commit.
type CharacterStore struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	nextCharacterID int64
	nextHistoryID   int64
	characters      map[int64]tracker.Character
	byName          map[string]int64
	history         map[int64][]tracker.HistoryEntry
}

// NewCharacterStore constructs an empty CharacterStore.
func NewCharacterStore() *CharacterStore {
	return &CharacterStore{
		state: state{
			characters: make(map[int64]tracker.Character),
			byName:     make(map[string]int64),
			history:    make(map[int64][]tracker.HistoryEntry),
		},
	}
}

// WithTx runs fn against a copy of the state and commits it when fn succeeds.
// The write lock is held for the whole transaction, which serializes writers.
func (s *CharacterStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{st: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

// GetCharacter fetches a character by ID.
func (s *CharacterStore) GetCharacter(_ context.Context, id int64) (tracker.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.characters[id]
	if !ok {
		return tracker.Character{}, store.ErrNotFound
	}
	return c, nil
}

// GetCharacterByName fetches a character by exact name.
func (s *CharacterStore) GetCharacterByName(_ context.Context, name string) (tracker.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.byName[name]
	if !ok {
		return tracker.Character{}, store.ErrNotFound
	}
	return s.state.characters[id], nil
}

// ListCharacters returns every character with its latest snapshot.
func (s *CharacterStore) ListCharacters(_ context.Context) ([]tracker.CharacterState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.CharacterState, 0, len(s.state.characters))
	for id, c := range s.state.characters {
		item := tracker.CharacterState{Character: c}
		for _, h := range s.state.history[id] {
			if item.Latest == nil || !h.CapturedAt.Before(item.Latest.CapturedAt) {
				latest := h
				item.Latest = &latest
			}
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListHistory returns snapshots newer than since, newest first.
func (s *CharacterStore) ListHistory(
	_ context.Context,
	characterID int64,
	since time.Time,
) ([]tracker.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.state.history[characterID]
	out := make([]tracker.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].CapturedAt.Before(since) {
			continue
		}
		out = append(out, entries[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.After(out[j].CapturedAt) })
	return out, nil
}

// DeleteCharacter removes a character together with its history.
func (s *CharacterStore) DeleteCharacter(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.characters[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.state.characters, id)
	delete(s.state.byName, c.Name)
	delete(s.state.history, id)
	return nil
}

// HistoryCount reports how many snapshots are stored for a character.
func (s *CharacterStore) HistoryCount(characterID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.history[characterID])
}

// Ping always succeeds.
func (s *CharacterStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *CharacterStore) Close() {}

type memTx struct {
	st state
}

func (t *memTx) UpsertCharacter(_ context.Context, c *tracker.Character) (bool, error) {
	if id, ok := t.st.byName[c.Name]; ok {
		existing := t.st.characters[id]
		existing.Level = c.Level
		existing.Vocation = c.Vocation
		existing.World = c.World
		existing.UpdatedAt = c.UpdatedAt
		t.st.characters[id] = existing
		*c = existing
		return false, nil
	}
	t.st.nextCharacterID++
	c.ID = t.st.nextCharacterID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	t.st.characters[c.ID] = *c
	t.st.byName[c.Name] = c.ID
	return true, nil
}

func (t *memTx) AppendHistory(_ context.Context, h *tracker.HistoryEntry) error {
	if _, ok := t.st.characters[h.CharacterID]; !ok {
		return store.ErrNotFound
	}
	t.st.nextHistoryID++
	h.ID = t.st.nextHistoryID
	t.st.history[h.CharacterID] = append(t.st.history[h.CharacterID], *h)
	return nil
}

func (s state) clone() state {
	cp := state{
		nextCharacterID: s.nextCharacterID,
		nextHistoryID:   s.nextHistoryID,
		characters:      make(map[int64]tracker.Character, len(s.characters)),
		byName:          make(map[string]int64, len(s.byName)),
		history:         make(map[int64][]tracker.HistoryEntry, len(s.history)),
	}
	for k, v := range s.characters {
		cp.characters[k] = v
	}
	for k, v := range s.byName {
		cp.byName[k] = v
	}
	for k, v := range s.history {
		cp.history[k] = append([]tracker.HistoryEntry(nil), v...)
	}
	return cp
}
