package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionBusy is returned when a session already has a request in flight.
// Callers should retry after the in-flight request finishes.
var ErrSessionBusy = errors.New("session busy: another request is in flight")

// ErrSessionNotFound is returned for operations on an unknown session ID
var ErrSessionNotFound = errors.New("session not found")

type entry struct {
	session *Session
	leased  bool
}

// Store holds all live sessions. One instance is created at process start;
// sessions are created on first message and evicted after an idle timeout.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewStore creates a Store that evicts sessions idle for longer than idleTimeout
func NewStore(idleTimeout time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:    make(map[string]*entry),
		idleTimeout: idleTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// GetOrCreate returns a snapshot of the session with the given ID, creating
// it first if needed. An empty ID creates a session with a fresh UUID.
func (s *Store) GetOrCreate(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.getOrCreateLocked(id))
}

// Acquire takes the single-writer lease on a session, creating the session
// if it does not exist. It returns a snapshot and a release func. A second
// concurrent Acquire for the same ID fails with ErrSessionBusy; the session's
// turns are never mutated by two requests at once. A leased session cannot
// be evicted.
func (s *Store) Acquire(id string) (Session, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.getOrCreateLocked(id)
	if ent.leased {
		return Session{}, nil, fmt.Errorf("%w: %s", ErrSessionBusy, ent.session.ID)
	}
	ent.leased = true
	ent.session.LastActiveAt = s.now()

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if latest, ok := s.sessions[ent.session.ID]; ok {
			latest.leased = false
			latest.session.LastActiveAt = s.now()
		}
	}
	return s.snapshotLocked(ent), release, nil
}

// Append adds a finalized turn to the session's history. History is
// append-only; the stored turn is a deep copy.
func (s *Store) Append(id string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}
	ent.session.Turns = append(ent.session.Turns, CloneTurn(turn))
	ent.session.LastActiveAt = s.now()
	return nil
}

// EvictIdle removes sessions whose last activity is older than the idle
// timeout. Sessions with a held lease are skipped. Returns the eviction count.
func (s *Store) EvictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, ent := range s.sessions {
		if ent.leased {
			continue
		}
		if now.Sub(ent.session.LastActiveAt) >= s.idleTimeout {
			delete(s.sessions, id)
			evicted++
			s.logger.Info("evicted idle session", "session_id", id, "turns", len(ent.session.Turns))
		}
	}
	return evicted
}

// StartSweeper runs EvictIdle on the given interval until ctx is cancelled
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.EvictIdle(s.now())
			}
		}
	}()
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) getOrCreateLocked(id string) *entry {
	if id != "" {
		if ent, ok := s.sessions[id]; ok {
			return ent
		}
	} else {
		id = uuid.NewString()
	}
	now := s.now()
	ent := &entry{
		session: &Session{
			ID:           id,
			CreatedAt:    now,
			LastActiveAt: now,
		},
	}
	s.sessions[id] = ent
	s.logger.Info("created new session", "session_id", id)
	return ent
}

func (s *Store) snapshotLocked(ent *entry) Session {
	snapshot := *ent.session
	snapshot.Turns = CloneTurns(ent.session.Turns)
	return snapshot
}
