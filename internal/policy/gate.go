// Package policy holds the process-scoped accept/reject state: the
// whitelist/blacklist filter, the warm-up emission guard, and the
// conversation activity map. All of it is constructed at startup and passed
// explicitly; there are no ambient globals.
package policy

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// Mode selects how the gate filters conversations and senders.
type Mode string

const (
	ModeNone      Mode = ""
	ModeWhitelist Mode = "whitelist"
	ModeBlacklist Mode = "blacklist"
)

// Gate decides whether an inbound message may reach handlers. ShouldAccept
// is pure and O(1) against two static sets loaded at startup.
type Gate struct {
	mode      Mode
	whitelist map[string]struct{}
	blacklist map[string]struct{}

	warmupUntil  time.Time
	ignoreWarmup bool

	activeInterval time.Duration
	activity       activityMap
}

// Option configures a Gate at construction time.
type Option func(*Gate)

// WithWarmup suppresses event emission for the given window after session
// start. This is advisory back-pressure against automated-risk detection;
// it never causes message loss, only skipped emission.
func WithWarmup(window time.Duration) Option {
	return func(g *Gate) {
		if window > 0 {
			g.warmupUntil = time.Now().Add(window)
		}
	}
}

// WithIgnoreWarmup disables the warm-up guard entirely.
func WithIgnoreWarmup() Option {
	return func(g *Gate) { g.ignoreWarmup = true }
}

// WithActiveInterval sets how long after a reply a conversation counts as
// engaged. Zero disables engagement entirely.
func WithActiveInterval(d time.Duration) Option {
	return func(g *Gate) { g.activeInterval = d }
}

// NewGate builds the gate from a mode and its two id sets.
func NewGate(mode Mode, whitelist, blacklist []string, opts ...Option) *Gate {
	g := &Gate{
		mode:      Mode(strings.ToLower(strings.TrimSpace(string(mode)))),
		whitelist: toSet(whitelist),
		blacklist: toSet(blacklist),
	}
	g.activity.init()
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// ShouldAccept reports whether a message from senderID in conversationID
// passes the filter. Rejection is not an error; callers skip silently.
func (g *Gate) ShouldAccept(conversationID, senderID string) bool {
	switch g.mode {
	case ModeWhitelist:
		_, conv := g.whitelist[conversationID]
		_, sender := g.whitelist[senderID]
		return conv || sender
	case ModeBlacklist:
		_, conv := g.blacklist[conversationID]
		_, sender := g.blacklist[senderID]
		return !conv && !sender
	default:
		return true
	}
}

// SuppressEmission reports whether event emission should be skipped because
// the session is still inside its warm-up window.
func (g *Gate) SuppressEmission(now time.Time) bool {
	if g.ignoreWarmup {
		return false
	}
	return now.Before(g.warmupUntil)
}

// Touch records a reply engagement with the conversation at the given time.
func (g *Gate) Touch(conversationID string, at time.Time) {
	g.activity.touch(conversationID, at)
}

// Engaged reports whether the bot replied in the conversation recently
// enough, within the active interval, to keep answering without an
// explicit mention.
func (g *Gate) Engaged(conversationID string, now time.Time) bool {
	if g.activeInterval <= 0 {
		return false
	}
	idle, ok := g.IdleFor(conversationID, now)
	return ok && idle <= g.activeInterval
}

// IdleFor reports how long the conversation has been silent at the given
// time. Conversations never seen report a zero time and ok=false.
func (g *Gate) IdleFor(conversationID string, now time.Time) (time.Duration, bool) {
	last, ok := g.activity.last(conversationID)
	if !ok {
		return 0, false
	}
	return now.Sub(last), true
}

// activityMap is the conversation -> last-interaction map, sharded so that
// concurrent producers for distinct conversations do not contend.
const activityShards = 16

type activityMap struct {
	shards [activityShards]struct {
		mu   sync.Mutex
		last map[string]time.Time
	}
}

func (m *activityMap) init() {
	for i := range m.shards {
		m.shards[i].last = make(map[string]time.Time)
	}
}

func (m *activityMap) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % activityShards)
}

func (m *activityMap) touch(key string, at time.Time) {
	s := &m.shards[m.shard(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.last[key]) {
		s.last[key] = at
	}
}

func (m *activityMap) last(key string) (time.Time, bool) {
	s := &m.shards[m.shard(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[key]
	return last, ok
}
