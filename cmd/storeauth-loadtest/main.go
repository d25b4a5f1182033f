package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leafcart/storeauth"
	"github.com/leafcart/storeauth/userstore"
	"github.com/redis/go-redis/v9"
)

const seedPassword = "L04d!Test"

type account struct {
	email     string
	token     string
	sessionID string
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of accounts to register and log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per authenticate/csrf phase")
		loginOps    = flag.Int("login-ops", 2000, "operations in the login phase")
		iterations  = flag.Int("iterations", 10000, "PBKDF2 iterations used for seeded passwords")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 || *loginOps <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, ops and login-ops must be > 0")
		os.Exit(2)
	}

	client, cleanup, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := buildEngine(client, *iterations)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	fmt.Printf("seeding %d accounts...\n", *users)
	startSeed := time.Now()
	accounts, err := seed(ctx, engine, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		_, err := engine.Authenticate(ctx, accounts[r.Intn(len(accounts))].token)
		return err
	})

	loginStats := runPhase(*loginOps, *concurrency, func(r *mrand.Rand) error {
		_, err := engine.Login(ctx, storeauth.LoginInput{
			Email:     accounts[r.Intn(len(accounts))].email,
			Password:  seedPassword,
			IP:        "10.0.0.1",
			UserAgent: "storeauth-loadtest",
		})
		return err
	})

	csrfStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		acct := accounts[r.Intn(len(accounts))]
		token, err := engine.IssueCSRFToken(ctx, acct.sessionID)
		if err != nil {
			return err
		}
		if !engine.ValidateCSRFToken(ctx, token, acct.sessionID) {
			return fmt.Errorf("csrf token rejected")
		}
		return nil
	})

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("login", loginStats)
	printStats("csrf", csrfStats)
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func buildEngine(client redis.UniversalClient, iterations int) (*storeauth.Engine, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	cfg := storeauth.DefaultConfig()
	cfg.Token.Secret = secret
	cfg.Password.Iterations = iterations
	// One client IP drives every login, so only the per-email limiter applies.
	cfg.RateLimit.EnableIPThrottle = false

	return storeauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(userstore.NewMemory()).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
}

func seed(ctx context.Context, engine *storeauth.Engine, n int) ([]account, error) {
	accounts := make([]account, n)
	for i := range accounts {
		email := fmt.Sprintf("shopper%d@loadtest.example", i)
		if _, err := engine.Register(ctx, storeauth.RegisterInput{
			Email:    email,
			Password: seedPassword,
			Name:     fmt.Sprintf("Shopper %d", i),
		}); err != nil {
			return nil, fmt.Errorf("register %s: %w", email, err)
		}
		res, err := engine.Login(ctx, storeauth.LoginInput{Email: email, Password: seedPassword})
		if err != nil {
			return nil, fmt.Errorf("login %s: %w", email, err)
		}
		accounts[i] = account{email: email, token: res.AccessToken, sessionID: res.SessionID}
	}
	return accounts, nil
}

// runPhase spreads ops calls of fn across concurrency workers and records the
// latency of each call.
func runPhase(ops, concurrency int, fn func(r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				if atomic.AddInt64(&cursor, 1) > int64(ops) {
					break
				}
				t0 := time.Now()
				err := fn(r)
				local = append(local, time.Since(t0))
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects samples sorted ascending.
func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%-12s ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
