package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/homeagent/pkg/config"
	"github.com/dotsetgreg/homeagent/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Durable is the slice of the durable store the session registry reads from.
type Durable interface {
	GetUserTrust(ctx context.Context, userID string) (score int, found bool, err error)
	// GetRecentSession returns the user's newest session active at or after
	// since, or nil when there is none.
	GetRecentSession(ctx context.Context, userID string, since time.Time) (*RecentSession, error)
	ArchiveSession(ctx context.Context, sessionID string) error
	// SessionOwner reports the user a persisted session id belongs to.
	SessionOwner(ctx context.Context, sessionID string) (userID string, found bool, err error)
}

type RecentSession struct {
	ID             string
	UserID         string
	CreatedAt      time.Time
	LastActivityAt time.Time
	History        []Turn
	// NextSeq is one past the highest durable sequence number.
	NextSeq        int
}

type Config struct {
	ReattachWindow time.Duration
	IdleTimeout    time.Duration
	HistoryLimit   int
	IntentHistory  int
	DefaultTrust   int
}

func ConfigFrom(cfg config.SessionConfig) Config {
	return Config{
		ReattachWindow: cfg.ReattachWindow.Std(),
		IdleTimeout:    cfg.IdleTimeout.Std(),
		HistoryLimit:   cfg.HistoryWindowTurns * 2,
		IntentHistory:  cfg.IntentHistory,
		DefaultTrust:   cfg.DefaultTrust,
	}
}

func (c Config) withDefaults() Config {
	if c.ReattachWindow <= 0 {
		c.ReattachWindow = 24 * time.Hour
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 40
	}
	if c.IntentHistory <= 0 {
		c.IntentHistory = 10
	}
	if c.DefaultTrust < 0 || c.DefaultTrust > 100 {
		c.DefaultTrust = 25
	}
	return c
}

type entry struct {
	// lock is a one-slot semaphore so waiters can give up on ctx.
	lock    chan struct{}
	mu      sync.RWMutex
	session *Session
	evicted bool
	offered atomic.Int64
}

func newEntry(s *Session) *entry {
	e := &entry{lock: make(chan struct{}, 1), session: s}
	e.offered.Store(-1)
	return e
}

func (e *entry) view() Session {
	e.mu.RLock()
	out := e.session.Clone()
	e.mu.RUnlock()
	if offered := int(e.offered.Load()); offered >= 0 {
		out.RaiseTrust(offered)
	}
	return out
}

func (e *entry) commit(s *Session) {
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
}

// Store is the registry of live sessions. Each session is independently
// lockable; distinct sessions never contend.
type Store struct {
	cfg     Config
	durable Durable
	loads   singleflight.Group
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore builds a registry. durable may be nil for a purely in-memory store.
func NewStore(cfg Config, durable Durable) *Store {
	return &Store{
		cfg:     cfg.withDefaults(),
		durable: durable,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func (s *Store) Config() Config {
	return s.cfg
}

// GetOrCreate returns a snapshot of the session for the caller. Without a
// session id the user's newest live session is reused, then the newest
// durable one inside the reattach window, and otherwise a fresh session is
// seeded with the user's persisted trust.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, userID string) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, fmt.Errorf("get session: missing user id")
	}

	if snap, ok, err := s.lookupLive(sessionID, userID); ok || err != nil {
		return snap, err
	}

	key := "id:" + sessionID
	if sessionID == "" {
		key = "user:" + userID
	}
	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		return s.load(ctx, sessionID, userID)
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (s *Store) lookupLive(sessionID, userID string) (Session, bool, error) {
	if sessionID != "" {
		e, ok := s.entry(sessionID)
		if !ok {
			return Session{}, false, nil
		}
		snap := e.view()
		if snap.UserID != userID {
			return Session{}, false, fmt.Errorf("%w: %s", ErrSessionOwner, sessionID)
		}
		return snap, true, nil
	}

	cutoff := s.now().Add(-s.cfg.IdleTimeout)
	var (
		best  Session
		found bool
	)
	s.mu.Lock()
	candidates := make([]*entry, 0, 4)
	for _, e := range s.entries {
		candidates = append(candidates, e)
	}
	s.mu.Unlock()
	for _, e := range candidates {
		snap := e.view()
		if snap.UserID != userID || snap.LastActivityAt.Before(cutoff) {
			continue
		}
		if !found || snap.LastActivityAt.After(best.LastActivityAt) {
			best, found = snap, true
		}
	}
	return best, found, nil
}

func (s *Store) load(ctx context.Context, sessionID, userID string) (Session, error) {
	// A concurrent loader may have won the race for this key.
	if snap, ok, err := s.lookupLive(sessionID, userID); ok || err != nil {
		return snap, err
	}

	now := s.now()
	trust := s.cfg.DefaultTrust
	var recent *RecentSession
	if s.durable != nil {
		// An evicted session is no longer in the registry, so ownership is
		// checked against the durable row.
		if sessionID != "" {
			owner, found, err := s.durable.SessionOwner(ctx, sessionID)
			if err != nil {
				return Session{}, fmt.Errorf("%w: load owner of %s: %v", ErrStoreUnavailable, sessionID, err)
			}
			if found && owner != userID {
				return Session{}, fmt.Errorf("%w: %s", ErrSessionOwner, sessionID)
			}
		}
		score, found, err := s.durable.GetUserTrust(ctx, userID)
		if err != nil {
			return Session{}, fmt.Errorf("%w: load trust for %s: %v", ErrStoreUnavailable, userID, err)
		}
		if found {
			trust = ClampTrust(score)
		}
		recent, err = s.durable.GetRecentSession(ctx, userID, now.Add(-s.cfg.ReattachWindow))
		if err != nil {
			return Session{}, fmt.Errorf("%w: load recent session for %s: %v", ErrStoreUnavailable, userID, err)
		}
	}

	sess := &Session{
		ID:             sessionID,
		UserID:         userID,
		TrustScore:     trust,
		DeviceStates:   make(map[string]map[string]any),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	reattached := false
	if recent != nil && (sessionID == "" || recent.ID == sessionID) {
		sess.ID = recent.ID
		sess.CreatedAt = recent.CreatedAt
		sess.LastActivityAt = recent.LastActivityAt
		sess.History = recent.History
		sess.Seq = max(recent.NextSeq, len(recent.History))
		if len(sess.History) > s.cfg.HistoryLimit {
			sess.History = sess.History[len(sess.History)-s.cfg.HistoryLimit:]
		}
		reattached = true
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}

	s.mu.Lock()
	if existing, ok := s.entries[sess.ID]; ok {
		s.mu.Unlock()
		snap := existing.view()
		if snap.UserID != userID {
			return Session{}, fmt.Errorf("%w: %s", ErrSessionOwner, sess.ID)
		}
		return snap, nil
	}
	s.entries[sess.ID] = newEntry(sess)
	s.mu.Unlock()

	logger.InfoCF("session", "Session attached",
		map[string]interface{}{
			"session_id": sess.ID,
			"user_id":    userID,
			"reattached": reattached,
			"trust":      sess.TrustScore,
			"history":    len(sess.History),
		})
	return sess.Clone(), nil
}

func (s *Store) entry(sessionID string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	return e, ok
}

// Snapshot returns a detached copy of a live session.
func (s *Store) Snapshot(sessionID string) (Session, bool) {
	e, ok := s.entry(sessionID)
	if !ok {
		return Session{}, false
	}
	return e.view(), true
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// OfferTrust records a newer trust score computed outside the session lock.
// It is merged, never lowering the score, the next time the session is read
// or mutated.
func (s *Store) OfferTrust(sessionID string, score int) {
	e, ok := s.entry(sessionID)
	if !ok {
		return
	}
	score = ClampTrust(score)
	for {
		cur := e.offered.Load()
		if int64(score) <= cur {
			return
		}
		if e.offered.CompareAndSwap(cur, int64(score)) {
			return
		}
	}
}

// WithSession runs fn with exclusive access to a working copy of the session.
// The copy replaces the live session only when fn returns a nil error, so a
// failing or panicking fn leaves no partial mutation behind.
func WithSession[T any](ctx context.Context, s *Store, sessionID string, fn func(*Session) (T, error)) (result T, err error) {
	e, ok := s.entry(sessionID)
	if !ok {
		return result, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return result, ctx.Err()
	}
	defer func() { <-e.lock }()

	if e.evicted {
		s.revive(sessionID, e)
	}

	working := e.view()
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = fmt.Errorf("session %s: panic in scoped mutation: %v", sessionID, r)
		}
	}()

	result, err = fn(&working)
	if err != nil {
		return result, err
	}
	// The in-memory window is bounded; the durable log keeps everything.
	if dropped := len(working.History) - s.cfg.HistoryLimit; dropped > 0 {
		working.History = append([]Turn(nil), working.History[dropped:]...)
		if working.LastDeviceAction != nil {
			working.LastDeviceAction.TurnIndex -= dropped
		}
	}
	e.commit(&working)
	return result, nil
}

func (s *Store) revive(sessionID string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.entries[sessionID]; !taken {
		s.entries[sessionID] = e
	}
	e.evicted = false
}

// Sweep evicts sessions idle longer than the idle timeout and marks them
// archived durably. Sessions currently locked by a turn are skipped.
func (s *Store) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-s.cfg.IdleTimeout)

	s.mu.Lock()
	var expired []string
	for id, e := range s.entries {
		select {
		case e.lock <- struct{}{}:
		default:
			continue
		}
		if e.view().LastActivityAt.Before(cutoff) {
			e.evicted = true
			delete(s.entries, id)
			expired = append(expired, id)
		}
		<-e.lock
	}
	s.mu.Unlock()

	if s.durable != nil {
		for _, id := range expired {
			if err := s.durable.ArchiveSession(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				logger.WarnCF("session", "Archive expired session failed",
					map[string]interface{}{"session_id": id, "error": err.Error()})
			}
		}
	}
	if len(expired) > 0 {
		logger.InfoCF("session", "Expired idle sessions",
			map[string]interface{}{"count": len(expired), "idle_timeout": s.cfg.IdleTimeout.String()})
	}
	return len(expired)
}
