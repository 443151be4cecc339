package policy

import (
	"testing"
	"time"
)

func TestGateModes(t *testing.T) {
	t.Parallel()

	t.Run("none accepts everything", func(t *testing.T) {
		t.Parallel()
		g := NewGate(ModeNone, nil, nil, WithIgnoreWarmup())
		if !g.ShouldAccept("room@chatroom", "alice") {
			t.Fatal("empty mode must accept")
		}
	})

	t.Run("whitelist matches conversation or sender", func(t *testing.T) {
		t.Parallel()
		g := NewGate(ModeWhitelist, []string{"room@chatroom", "bob"}, nil, WithIgnoreWarmup())
		if !g.ShouldAccept("room@chatroom", "alice") {
			t.Fatal("listed conversation must pass")
		}
		if !g.ShouldAccept("other@chatroom", "bob") {
			t.Fatal("listed sender must pass")
		}
		if g.ShouldAccept("other@chatroom", "alice") {
			t.Fatal("unlisted pair must be rejected")
		}
	})

	t.Run("blacklist rejects either match", func(t *testing.T) {
		t.Parallel()
		g := NewGate(ModeBlacklist, nil, []string{"spammer"}, WithIgnoreWarmup())
		if g.ShouldAccept("room@chatroom", "spammer") {
			t.Fatal("listed sender must be rejected")
		}
		if g.ShouldAccept("spammer", "alice") {
			t.Fatal("listed conversation must be rejected")
		}
		if !g.ShouldAccept("room@chatroom", "alice") {
			t.Fatal("unlisted pair must pass")
		}
	})

	t.Run("mode string is normalized", func(t *testing.T) {
		t.Parallel()
		g := NewGate(Mode(" Whitelist "), []string{"bob"}, nil, WithIgnoreWarmup())
		if g.ShouldAccept("x", "alice") {
			t.Fatal("normalized whitelist mode must reject unlisted ids")
		}
	})
}

func TestGateWarmup(t *testing.T) {
	t.Parallel()

	g := NewGate(ModeNone, nil, nil, WithWarmup(time.Hour))
	now := time.Now()
	if !g.SuppressEmission(now) {
		t.Fatal("emission must be suppressed inside the warm-up window")
	}
	if g.SuppressEmission(now.Add(2 * time.Hour)) {
		t.Fatal("emission must resume after the window")
	}

	ignored := NewGate(ModeNone, nil, nil, WithWarmup(time.Hour), WithIgnoreWarmup())
	if ignored.SuppressEmission(now) {
		t.Fatal("ignore option must disable the guard")
	}
}

func TestGateActivityTracking(t *testing.T) {
	t.Parallel()

	g := NewGate(ModeNone, nil, nil)
	base := time.Now()

	if _, ok := g.IdleFor("conv", base); ok {
		t.Fatal("unknown conversation must report ok=false")
	}

	g.Touch("conv", base)
	idle, ok := g.IdleFor("conv", base.Add(10*time.Minute))
	if !ok || idle != 10*time.Minute {
		t.Fatalf("expected 10m idle, got %v ok=%v", idle, ok)
	}

	// Out-of-order touches never move the clock backwards.
	g.Touch("conv", base.Add(-time.Hour))
	idle, _ = g.IdleFor("conv", base.Add(10*time.Minute))
	if idle != 10*time.Minute {
		t.Fatalf("stale touch moved the clock: %v", idle)
	}
}

func TestGateEngagement(t *testing.T) {
	t.Parallel()

	now := time.Now()

	t.Run("disabled without an active interval", func(t *testing.T) {
		t.Parallel()
		g := NewGate(ModeNone, nil, nil, WithIgnoreWarmup())
		g.Touch("room@chatroom", now)
		if g.Engaged("room@chatroom", now) {
			t.Fatal("zero interval must never report engaged")
		}
	})

	t.Run("engaged within the interval", func(t *testing.T) {
		t.Parallel()
		g := NewGate(ModeNone, nil, nil, WithIgnoreWarmup(), WithActiveInterval(10*time.Minute))
		if g.Engaged("room@chatroom", now) {
			t.Fatal("untouched conversation must not be engaged")
		}
		g.Touch("room@chatroom", now)
		if !g.Engaged("room@chatroom", now.Add(time.Minute)) {
			t.Fatal("recent reply must keep the conversation engaged")
		}
		if g.Engaged("room@chatroom", now.Add(time.Hour)) {
			t.Fatal("engagement must lapse past the interval")
		}
	})
}
