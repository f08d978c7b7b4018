package rpc

import (
	"fmt"
	"testing"
	"time"
)

func TestIdleVisitorsEvicted(t *testing.T) {
	env := newTestEnv(t)
	server := env.server
	now := time.Now()
	server.clockNow = func() time.Time { return now }
	server.lastSweep = now

	for i := 0; i < 50; i++ {
		server.allowSource(fmt.Sprintf("10.0.0.%d", i))
	}
	if len(server.visitors) != 50 {
		t.Fatalf("expected 50 visitors, got %d", len(server.visitors))
	}

	// One client stays active halfway through the window; the rest go idle.
	now = now.Add(visitorTTL / 2)
	server.allowSource("10.0.0.7")

	now = now.Add(visitorTTL/2 + time.Second)
	server.allowSource("10.0.1.1")

	if len(server.visitors) != 2 {
		t.Fatalf("stale visitors retained: %d", len(server.visitors))
	}
	if _, ok := server.visitors["10.0.0.7"]; !ok {
		t.Fatalf("active visitor evicted")
	}
	if _, ok := server.visitors["10.0.1.1"]; !ok {
		t.Fatalf("new visitor missing")
	}
}

func TestVisitorLimiterSurvivesWithinWindow(t *testing.T) {
	env := newTestEnv(t)
	server := NewServer(env.engine, env.manager, testToken, 60, 1)
	now := time.Now()
	server.clockNow = func() time.Time { return now }
	server.lastSweep = now

	if !server.allowSource("10.0.0.1") {
		t.Fatalf("first request throttled")
	}
	if server.allowSource("10.0.0.1") {
		t.Fatalf("burst of one allowed a second request")
	}
	// Too soon for the limiter to refill; the entry must still be the same one.
	now = now.Add(100 * time.Millisecond)
	if server.allowSource("10.0.0.1") {
		t.Fatalf("limiter state lost before the idle window elapsed")
	}
}
