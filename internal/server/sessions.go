package server

import (
	"strings"
	"sync"
	"time"

	"smartmint/internal/mint"
	"smartmint/internal/session"
)

const (
	HeaderSessionID  = "X-Session-ID"
	defaultSessionID = "default"
	maxSessionIDLen  = 128

	DefaultSessionIdleTTL = 30 * time.Minute
	DefaultMaxSessions    = 10000
)

// Tab is the state one browser tab owns: its session and the mint workflow
// submitting from that session's account.
type Tab struct {
	Session  *session.Session
	Workflow *mint.Workflow
}

// TabFactory builds a fresh tab.
type TabFactory func() *Tab

type tabEntry struct {
	tab      *Tab
	lastSeen time.Time
}

// Sessions hands out tabs by id, creating them on first use. Tabs idle for
// longer than IdleTTL are dropped, and at most MaxTabs are kept. A tab with a
// mint in flight is never dropped.
type Sessions struct {
	newTab  TabFactory
	IdleTTL time.Duration
	MaxTabs int
	now     func() time.Time

	mu        sync.Mutex
	tabs      map[string]*tabEntry
	lastSweep time.Time
}

func NewSessions(newTab TabFactory) *Sessions {
	return &Sessions{
		newTab:  newTab,
		IdleTTL: DefaultSessionIdleTTL,
		MaxTabs: DefaultMaxSessions,
		now:     time.Now,
		tabs:    make(map[string]*tabEntry),
	}
}

func (s *Sessions) Get(id string) *Tab {
	id = normalizeSessionID(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.tabs[id]; ok {
		e.lastSeen = now
		return e.tab
	}

	if s.IdleTTL > 0 && now.Sub(s.lastSweep) >= s.IdleTTL/4 {
		s.sweepLocked(now)
	}
	if s.MaxTabs > 0 && len(s.tabs) >= s.MaxTabs {
		s.evictOldestLocked()
	}

	tab := s.newTab()
	s.tabs[id] = &tabEntry{tab: tab, lastSeen: now}
	return tab
}

// Remove drops the tab for id unless its workflow is still running. It
// reports whether the tab is gone.
func (s *Sessions) Remove(id string) bool {
	id = normalizeSessionID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tabs[id]
	if !ok {
		return true
	}
	if busy(e.tab) {
		return false
	}
	delete(s.tabs, id)
	return true
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}

func (s *Sessions) sweepLocked(now time.Time) {
	s.lastSweep = now
	for id, e := range s.tabs {
		if now.Sub(e.lastSeen) > s.IdleTTL && !busy(e.tab) {
			delete(s.tabs, id)
		}
	}
}

func (s *Sessions) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range s.tabs {
		if busy(e.tab) {
			continue
		}
		if oldestID == "" || e.lastSeen.Before(oldest) {
			oldestID, oldest = id, e.lastSeen
		}
	}
	if oldestID != "" {
		delete(s.tabs, oldestID)
	}
}

func busy(t *Tab) bool {
	return t.Workflow != nil && t.Workflow.InFlight()
}

func normalizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return defaultSessionID
	}
	if len(id) > maxSessionIDLen {
		id = id[:maxSessionIDLen]
	}
	return id
}
