package sessions

import (
	"sync"
	"time"

	"github.com/jamesread/golure/pkg/redact"
	log "github.com/sirupsen/logrus"
)

// defaultSessionLifetime is how long an issued session stays valid.
const defaultSessionLifetime = 30 * 24 * time.Hour

// writeDebounce batches registry mutations into a single persistence write.
const writeDebounce = 2 * time.Second

// UserSession records one issued session ID.
type UserSession struct {
	Username string `yaml:"username"`
	Provider string `yaml:"provider"`
	Expiry   int64  `yaml:"expiry"`
}

// SessionRegistry tracks the session IDs the sign-in flow has issued and not
// yet revoked. The gatekeeper itself stays stateless; this state belongs to
// the sign-in collaborator and is only consulted through IsActive.
type SessionRegistry struct {
	sessions map[string]*UserSession
	mu       sync.RWMutex

	persistence SessionPersistence

	writeTimer    *time.Timer
	writeTimerMu  sync.Mutex
	lastWriteDir  string
	lastWriteFile string

	shutdownChan  chan struct{}
	shutdownOnce  sync.Once
	cleanupTicker *time.Ticker
	cleanupOnce   sync.Once
}

// NewSessionRegistry creates a registry backed by the given persistence.
// If persistence is nil, it defaults to YAMLPersistence.
func NewSessionRegistry(persistence SessionPersistence) *SessionRegistry {
	s := &SessionRegistry{
		sessions:     make(map[string]*UserSession),
		shutdownChan: make(chan struct{}),
	}

	if persistence == nil {
		s.persistence = NewYAMLPersistence()
	} else {
		s.persistence = persistence
	}

	s.startCleanupGoroutine()

	return s
}

// Load replaces the registry contents from storage.
func (s *SessionRegistry) Load(dir, filename string) error {
	return s.persistence.Load(dir, filename, s)
}

// Register records a newly issued session ID.
func (s *SessionRegistry) Register(dir, filename, sid, username, provider string) {
	s.mu.Lock()
	s.sessions[sid] = &UserSession{
		Username: username,
		Provider: provider,
		Expiry:   time.Now().Add(defaultSessionLifetime).Unix(),
	}
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"sid":      redact.RedactString(sid),
		"username": username,
		"provider": provider,
	}).Debugf("Registered session")

	s.saveAsync(dir, filename)
}

// Get returns the session for sid, or nil if unknown or expired. Expired
// sessions are pruned on access.
func (s *SessionRegistry) Get(sid string) *UserSession {
	s.mu.RLock()
	session := s.sessions[sid]
	s.mu.RUnlock()

	if session == nil {
		return nil
	}

	if session.Expiry < time.Now().Unix() {
		s.deleteExpired(sid, time.Now().Unix())
		return nil
	}

	return session
}

// IsActive reports whether sid names a live, unrevoked session.
func (s *SessionRegistry) IsActive(sid string) bool {
	return s.Get(sid) != nil
}

// Revoke removes a session ID so tokens carrying it stop verifying.
func (s *SessionRegistry) Revoke(dir, filename, sid string) {
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"sid": redact.RedactString(sid),
	}).Debugf("Revoked session")

	s.saveAsync(dir, filename)
}

// Count returns the number of registered sessions, expired included.
func (s *SessionRegistry) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown stops background goroutines and performs a final write. Only the
// first call writes; subsequent calls are no-ops.
func (s *SessionRegistry) Shutdown(dir, filename string) error {
	var err error

	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		s.writeTimerMu.Lock()
		if s.writeTimer != nil {
			s.writeTimer.Stop()
		}
		s.writeTimerMu.Unlock()

		if s.cleanupTicker != nil {
			s.cleanupTicker.Stop()
		}

		err = s.persistence.Save(dir, filename, s)
	})

	return err
}

// deleteExpired deletes an expired session, re-checking under the write lock.
func (s *SessionRegistry) deleteExpired(sid string, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session := s.sessions[sid]; session != nil && session.Expiry < now {
		delete(s.sessions, sid)
	}
}

// saveAsync schedules a debounced persistence write.
func (s *SessionRegistry) saveAsync(dir, filename string) {
	s.writeTimerMu.Lock()
	defer s.writeTimerMu.Unlock()

	s.lastWriteDir = dir
	s.lastWriteFile = filename

	if s.writeTimer != nil {
		s.writeTimer.Reset(writeDebounce)
		return
	}

	s.writeTimer = time.AfterFunc(writeDebounce, func() {
		s.writeTimerMu.Lock()
		dir := s.lastWriteDir
		filename := s.lastWriteFile
		s.writeTimerMu.Unlock()

		if err := s.persistence.Save(dir, filename, s); err != nil {
			log.WithError(err).Error("Failed to persist sessions")
		}
	})
}

// startCleanupGoroutine sweeps expired sessions periodically.
func (s *SessionRegistry) startCleanupGoroutine() {
	s.cleanupOnce.Do(func() {
		s.cleanupTicker = time.NewTicker(1 * time.Hour)

		go func() {
			for {
				select {
				case <-s.shutdownChan:
					return
				case <-s.cleanupTicker.C:
					s.sweepExpired()
				}
			}
		}()
	})
}

func (s *SessionRegistry) sweepExpired() {
	now := time.Now().Unix()
	removed := 0

	s.mu.Lock()
	for sid, session := range s.sessions {
		if session.Expiry < now {
			delete(s.sessions, sid)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		log.WithFields(log.Fields{
			"removed": removed,
		}).Debugf("Swept expired sessions")
	}
}

// snapshot copies the session map for persistence.
func (s *SessionRegistry) snapshot() map[string]*UserSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*UserSession, len(s.sessions))
	for sid, session := range s.sessions {
		copied := *session
		out[sid] = &copied
	}

	return out
}

// replace swaps in a freshly loaded session map.
func (s *SessionRegistry) replace(loaded map[string]*UserSession) {
	if loaded == nil {
		loaded = make(map[string]*UserSession)
	}

	s.mu.Lock()
	s.sessions = loaded
	s.mu.Unlock()
}
