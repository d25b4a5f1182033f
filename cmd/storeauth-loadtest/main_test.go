package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}
	cases := map[int]time.Duration{
		0:   time.Millisecond,
		50:  50 * time.Millisecond,
		99:  99 * time.Millisecond,
		100: 100 * time.Millisecond,
	}
	for p, want := range cases {
		if got := percentile(samples, p); got != want {
			t.Fatalf("percentile(%d) = %v, want %v", p, got, want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("expected zero for no samples, got %v", got)
	}
}

func TestRunPhaseCountsEveryOp(t *testing.T) {
	calls := 0
	stats := runPhase(500, 1, func(r *rand.Rand) error {
		calls++
		return nil
	})
	if calls != 500 || stats.ops != 500 || stats.failures != 0 {
		t.Fatalf("calls=%d ops=%d failures=%d", calls, stats.ops, stats.failures)
	}
}

func TestSeededAccountsAuthenticate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = client.Close() })

	engine, err := buildEngine(client, 1000)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	accounts, err := seed(ctx, engine, 3)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, a := range accounts {
		id, err := engine.Authenticate(ctx, a.token)
		if err != nil {
			t.Fatalf("authenticate %s: %v", a.email, err)
		}
		if id.SessionID != a.sessionID {
			t.Fatalf("expected session %s, got %s", a.sessionID, id.SessionID)
		}
	}
}
