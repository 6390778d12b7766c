package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"notes/api/internal/content"
	"notes/api/internal/util"
)

// Config tunes editor sessions. Zero values take the defaults.
type Config struct {
	AutosaveDelay time.Duration
	ErrorWindow   time.Duration
	UploadTimeout time.Duration
	IdleTTL       time.Duration
	// Resolver maps image sources to storage identifiers for the orphan sweep.
	Resolver *content.Resolver
}

func (c Config) withDefaults() Config {
	if c.AutosaveDelay <= 0 {
		c.AutosaveDelay = DefaultAutosaveDelay
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = DefaultErrorWindow
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 2 * time.Minute
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 15 * time.Minute
	}
	return c
}

// Manager owns the open editor sessions.
type Manager struct {
	pages  PageStore
	assets AssetStore
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(pages PageStore, assets AssetStore, cfg Config) *Manager {
	return &Manager{
		pages:    pages,
		assets:   assets,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Open loads the page and starts a session for it.
func (m *Manager) Open(ctx context.Context, ownerID, pageID string) (*Session, error) {
	doc, err := m.pages.LoadContent(ctx, ownerID, pageID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = content.NewDoc()
	}
	if removed := stripStalePlaceholders(doc); removed > 0 {
		log.Info().Str("page", pageID).Int("placeholders", removed).Msg("editor: dropped stale image placeholders")
	}

	s := newSession(util.NewID("ses"), ownerID, pageID, doc, m.pages, m.assets, m.cfg)
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	log.Debug().Str("session", s.id).Str("page", pageID).Msg("editor: session opened")
	return s, nil
}

// Get returns the owner's session.
func (m *Manager) Get(ownerID, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.ownerID != ownerID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close ends the owner's session, saving unsaved changes unless discard is set.
func (m *Manager) Close(ctx context.Context, ownerID, sessionID string, discard bool) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.ownerID != ownerID {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	return s.Close(ctx, discard)
}

// DiscardPage closes every session of a page without saving. Used when the page is deleted.
func (m *Manager) DiscardPage(ownerID, pageID string) int {
	closing := m.take(func(s *Session) bool { return s.ownerID == ownerID && s.pageID == pageID })
	for _, s := range closing {
		_ = s.Close(context.Background(), true)
	}
	return len(closing)
}

// ReapIdle closes sessions untouched since before now-IdleTTL, saving their changes.
func (m *Manager) ReapIdle(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTTL)
	expired := m.take(func(s *Session) bool { return s.idleSince().Before(cutoff) })
	for _, s := range expired {
		if err := s.Close(ctx, false); err != nil {
			log.Warn().Err(err).Str("session", s.id).Msg("editor: idle session closed with unsaved changes")
		}
	}
	if len(expired) > 0 {
		log.Info().Int("sessions", len(expired)).Msg("editor: reaped idle sessions")
	}
	return len(expired)
}

func (m *Manager) take(match func(*Session) bool) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var taken []*Session
	for id, s := range m.sessions {
		if match(s) {
			taken = append(taken, s)
			delete(m.sessions, id)
		}
	}
	return taken
}

// Run reaps idle sessions until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.IdleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reapCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			m.ReapIdle(reapCtx, now)
			cancel()
		}
	}
}

// Shutdown closes every session, saving unsaved changes.
func (m *Manager) Shutdown(ctx context.Context) error {
	all := m.take(func(*Session) bool { return true })
	var errs []error
	for _, s := range all {
		if err := s.Close(ctx, false); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.id, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
