// Package session multiplexes several independently-locked allocators
// behind a single registry, keyed by a generated session ID.
//
// Each session wraps one memalloc.Allocator behind its own mutex:
// memalloc.Allocator is single-threaded and non-reentrant (its
// alternation bits and arena bookkeeping belong to one instance), so
// concurrent callers sharing a session must serialize through it. Two
// different sessions never contend with each other, since each owns
// its own arena and its own lock.
package session

import (
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arborix/memtree/intf"
	"github.com/arborix/memtree/lib/memalloc"
)

// Both the bare core allocator and a single locked session satisfy the
// shared Allocator interface, even though callers normally reach the
// latter only through the Manager's id-keyed methods.
var (
	_ intf.Allocator = (*memalloc.Allocator)(nil)
	_ intf.Allocator = (*session)(nil)
)

// session wraps one memalloc.Allocator with the mutex that serializes
// access to it.
type session struct {
	mu  sync.Mutex
	a   *memalloc.Allocator
	id  string
}

// Allocate thread-safely reserves size bytes from this session's
// arena.
func (s *session) Allocate(size int) (unsafe.Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.a.Allocate(size)
	logrus.Debugf("session %s: Allocate(%d) = %v, %v", s.id, size, p, err)
	return p, err
}

// Free thread-safely releases a pointer previously returned by
// Allocate.
func (s *session) Free(ptr unsafe.Pointer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a.Free(ptr)
	logrus.Debugf("session %s: Free(%v)", s.id, ptr)
}

// Metrics thread-safely snapshots this session's chunk accounting.
func (s *session) Metrics() memalloc.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Metrics()
}

// Audit thread-safely writes a diagnostic dump of this session's
// allocator state to w.
func (s *session) Audit(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a.Audit(w)
}

// Close releases this session's backing arena. The session must not
// be used again afterwards. It does not touch the manager's registry;
// Manager.Close removes the session from it before calling Close.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Close()
}

// Manager is a registry of independently-locked allocator sessions,
// each reachable by the ID returned from Open.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

// Open creates a new session backed by an arena of maxSize bytes
// (memalloc.DefaultArenaSize if maxSize <= 0) and returns its ID.
func (m *Manager) Open(maxSize int) (string, error) {
	a, err := memalloc.New(maxSize)
	if err != nil {
		return "", fmt.Errorf("session: open: %w", err)
	}

	id := uuid.NewString()
	s := &session{a: a, id: id}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	logrus.Debugf("session %s: opened (arena size %d)", id, a.Metrics().Capacity)
	return id, nil
}

// Close closes the session with the given ID and removes it from the
// registry. Closing an unknown ID is a no-op.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, found := m.sessions[id]
	if found {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !found {
		return nil
	}

	logrus.Debugf("session %s: closed", id)
	return s.Close()
}

// CloseAll closes every open session. An error from an individual
// session does not stop the sweep; the first such error is returned and
// later ones are dropped.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Close(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// lookup returns the session with the given ID.
func (m *Manager) lookup(id string) (*session, error) {
	m.mu.Lock()
	s, found := m.sessions[id]
	m.mu.Unlock()

	if !found {
		return nil, fmt.Errorf("session: %s: not found", id)
	}
	return s, nil
}

// Allocate reserves size bytes from the named session's arena.
func (m *Manager) Allocate(id string, size int) (unsafe.Pointer, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.Allocate(size)
}

// Free releases a pointer previously returned by Allocate on the
// named session.
func (m *Manager) Free(id string, ptr unsafe.Pointer) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.Free(ptr)
	return nil
}

// Metrics snapshots the named session's chunk accounting.
func (m *Manager) Metrics(id string) (memalloc.Metrics, error) {
	s, err := m.lookup(id)
	if err != nil {
		return memalloc.Metrics{}, err
	}
	return s.Metrics(), nil
}

// Audit writes a diagnostic dump of the named session's allocator
// state to w.
func (m *Manager) Audit(id string, w io.Writer) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.Audit(w)
	return nil
}

// Len returns the number of currently open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
