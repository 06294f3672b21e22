// Package pipeline implements the transcription and idea/exchange
// aggregation pipeline: the session manager, stale-buffer monitor,
// transcription stage, boundary detector, and exchange detector (spec.md
// §4.2–§4.6). Each stage is a small, independently testable component; App
// wires them together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// ErrNoActiveSession is returned when an operation needs an active session
// for a channel that has none.
var ErrNoActiveSession = errors.New("pipeline: no active session for channel")

// identity is the display information recorded for a participant alongside
// their user id.
type identity struct {
	username    string
	displayName string
}

// channelState is the per-channel bookkeeping a [SessionManager] keeps in
// memory alongside the authoritative row in the session store.
type channelState struct {
	sessionID    string
	participants map[string]identity
	lastActivity time.Time
}

// SessionManager tracks one active session per voice channel: start,
// participant join/leave, and activity-driven idle timeout (spec.md §4.4).
// A single owner per channel means cross-channel operations never contend;
// channel-to-channel state lives behind one map-plus-mutex, matching the
// per-key locking idiom used throughout this module.
type SessionManager struct {
	mu       sync.Mutex
	channels map[string]*channelState

	store   memory.SessionStore
	timeout time.Duration
}

// NewSessionManager creates a SessionManager backed by store. A channel
// transitions from active to abandoned once timeout elapses since its last
// recorded activity.
func NewSessionManager(store memory.SessionStore, timeout time.Duration) *SessionManager {
	return &SessionManager{
		channels: make(map[string]*channelState),
		store:    store,
		timeout:  timeout,
	}
}

// Start begins a session on channel, or adopts the channel's existing active
// session if the store already has one (e.g. after a process restart).
func (sm *SessionManager) Start(ctx context.Context, channel, channelName, guild string) (memory.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if st, ok := sm.channels[channel]; ok {
		if existing, err := sm.store.GetActiveSessionByChannel(ctx, channel); err == nil && existing != nil {
			return *existing, nil
		}
		delete(sm.channels, channel) // stale in-memory state; the store disagrees
	}

	if existing, err := sm.store.GetActiveSessionByChannel(ctx, channel); err == nil && existing != nil {
		sm.channels[channel] = &channelState{
			sessionID:    existing.ID,
			participants: sm.loadParticipants(ctx, existing.ID),
			lastActivity: time.Now(),
		}
		return *existing, nil
	}

	sess, err := sm.store.CreateSession(ctx, channel, channelName, guild)
	if err != nil {
		return memory.Session{}, fmt.Errorf("pipeline: start session on channel %q: %w", channel, err)
	}

	sm.channels[channel] = &channelState{
		sessionID:    sess.ID,
		participants: make(map[string]identity),
		lastActivity: time.Now(),
	}
	slog.Info("session started", "channel", channel, "session_id", sess.ID)
	return sess, nil
}

func (sm *SessionManager) loadParticipants(ctx context.Context, sessionID string) map[string]identity {
	set := make(map[string]identity)
	participants, err := sm.store.ListParticipants(ctx, sessionID)
	if err != nil {
		slog.Warn("pipeline: list participants on session adoption", "session_id", sessionID, "err", err)
		return set
	}
	for _, p := range participants {
		if p.LeftAt == nil {
			set[p.UserID] = identity{username: p.Username, displayName: p.DisplayName}
		}
	}
	return set
}

// AddParticipant records userID as present in channel's active session.
func (sm *SessionManager) AddParticipant(ctx context.Context, channel, userID, username, displayName string) error {
	sm.mu.Lock()
	st, ok := sm.channels[channel]
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline: add participant: %w", ErrNoActiveSession)
	}

	if err := sm.store.AddParticipant(ctx, st.sessionID, userID, username, displayName); err != nil {
		return fmt.Errorf("pipeline: add participant %q to session %q: %w", userID, st.sessionID, err)
	}

	sm.mu.Lock()
	st.participants[userID] = identity{username: username, displayName: displayName}
	st.lastActivity = time.Now()
	sm.mu.Unlock()
	return nil
}

// Identity returns the username and display name recorded for userID in
// channel's active session, if known.
func (sm *SessionManager) Identity(channel, userID string) (username, displayName string, ok bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st, found := sm.channels[channel]
	if !found {
		return "", "", false
	}
	id, found := st.participants[userID]
	if !found {
		return "", "", false
	}
	return id.username, id.displayName, true
}

// RemoveParticipant marks userID as having left channel's active session.
// If the participant set becomes empty, the session ends normally.
func (sm *SessionManager) RemoveParticipant(ctx context.Context, channel, userID string) error {
	sm.mu.Lock()
	st, ok := sm.channels[channel]
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline: remove participant: %w", ErrNoActiveSession)
	}

	remaining, err := sm.store.RemoveParticipant(ctx, st.sessionID, userID)
	if err != nil {
		return fmt.Errorf("pipeline: remove participant %q from session %q: %w", userID, st.sessionID, err)
	}

	sm.mu.Lock()
	delete(st.participants, userID)
	empty := remaining == 0
	if empty {
		delete(sm.channels, channel)
	}
	sm.mu.Unlock()

	if empty {
		if err := sm.store.EndSession(ctx, st.sessionID, memory.SessionEnded, time.Now()); err != nil {
			return fmt.Errorf("pipeline: end session %q: %w", st.sessionID, err)
		}
		slog.Info("session ended", "channel", channel, "session_id", st.sessionID, "reason", "empty")
	}
	return nil
}

// RecordActivity bumps channel's last-activity timestamp, postponing idle
// timeout. Called on every persisted utterance.
func (sm *SessionManager) RecordActivity(ctx context.Context, channel string) error {
	sm.mu.Lock()
	st, ok := sm.channels[channel]
	if ok {
		st.lastActivity = time.Now()
	}
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline: record activity: %w", ErrNoActiveSession)
	}
	return sm.store.RecordActivity(ctx, st.sessionID, st.lastActivity)
}

// ActiveSessionID returns the session id backing channel, if any.
func (sm *SessionManager) ActiveSessionID(channel string) (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st, ok := sm.channels[channel]
	if !ok {
		return "", false
	}
	return st.sessionID, true
}

// ActiveChannels returns every channel currently tracked as active.
func (sm *SessionManager) ActiveChannels() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]string, 0, len(sm.channels))
	for ch := range sm.channels {
		out = append(out, ch)
	}
	return out
}

// Run scans active channels every tick and abandons any whose last activity
// is older than the configured timeout. Blocks until ctx is cancelled.
func (sm *SessionManager) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sm.reapIdle(ctx, now)
		}
	}
}

func (sm *SessionManager) reapIdle(ctx context.Context, now time.Time) {
	sm.mu.Lock()
	var idleChannels []string
	for ch, st := range sm.channels {
		if now.Sub(st.lastActivity) > sm.timeout {
			idleChannels = append(idleChannels, ch)
		}
	}
	sm.mu.Unlock()

	for _, ch := range idleChannels {
		sm.mu.Lock()
		st, ok := sm.channels[ch]
		if ok {
			delete(sm.channels, ch)
		}
		sm.mu.Unlock()
		if !ok {
			continue
		}

		if err := sm.store.EndSession(ctx, st.sessionID, memory.SessionAbandoned, now); err != nil {
			slog.Warn("pipeline: abandon idle session", "channel", ch, "session_id", st.sessionID, "err", err)
			continue
		}
		slog.Info("session abandoned", "channel", ch, "session_id", st.sessionID, "idle_for", now.Sub(st.lastActivity))
	}
}
