// Package identity maps chat handles to private addresses.
//
// Users register by talking to the bot privately once. Until then the bot
// can mention them in a group but cannot message them directly.
package identity

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/state"
)

const keyPrefix = "identity."

// Entry is one registered handle.
type Entry struct {
	Handle       string       `json:"handle"`
	Address      chat.Address `json:"address"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// Registry resolves handles to private addresses.
type Registry interface {
	// Resolve returns the address registered for handle.
	Resolve(handle string) (chat.Address, bool)

	// Register records or replaces the address for handle.
	Register(handle string, addr chat.Address) error

	// Entries lists registrations ordered by handle.
	Entries() []Entry
}

// Normalize strips a leading @ and lowercases the handle. Chat handles
// are case-insensitive.
func Normalize(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// StoreRegistry is a Registry persisted in a state.StateStore and cached
// in memory.
type StoreRegistry struct {
	store state.StateStore
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStoreRegistry loads every registration from store.
func NewStoreRegistry(store state.StateStore) (*StoreRegistry, error) {
	r := &StoreRegistry{
		store:   store,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
	keys, err := store.Keys(keyPrefix + "*")
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	for _, k := range keys {
		data, err := store.Get(k)
		if stderrors.Is(err, state.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", k, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		r.entries[Normalize(e.Handle)] = e
	}
	return r, nil
}

// Resolve returns the address registered for handle.
func (r *StoreRegistry) Resolve(handle string) (chat.Address, bool) {
	h := Normalize(handle)
	if h == "" {
		return 0, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	return e.Address, ok
}

// Register persists the handle before caching it.
func (r *StoreRegistry) Register(handle string, addr chat.Address) error {
	h := Normalize(handle)
	if h == "" {
		return fmt.Errorf("empty handle")
	}
	if err := state.ValidateKey(keyPrefix + h); err != nil {
		return fmt.Errorf("handle %q: %w", handle, err)
	}
	if addr.IsGroup() || addr == 0 {
		return fmt.Errorf("handle %q: %s is not a private address", handle, addr)
	}

	e := Entry{Handle: h, Address: addr, RegisteredAt: r.now().UTC()}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[h]; ok && prev.Address == addr {
		return nil
	}
	if err := r.store.Put(keyPrefix+h, data); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}
	r.entries[h] = e
	return nil
}

// Entries lists registrations ordered by handle.
func (r *StoreRegistry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}
