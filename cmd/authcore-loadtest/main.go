// Command authcore-loadtest drives Login, Refresh and ResolveCaller in
// parallel against an in-memory directory and prints latency percentiles.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/schoolnotes/authcore"
	"github.com/schoolnotes/authcore/directory/memory"
)

type seededAccount struct {
	username string
	pair     *authcore.TokenPair
}

func main() {
	var (
		accounts    = pflag.Int("accounts", 1000, "number of accounts to register")
		concurrency = pflag.Int("concurrency", 64, "number of concurrent workers")
		ops         = pflag.Int("ops", 100000, "operations per resolve/refresh phase")
		loginOps    = pflag.Int("login-ops", 2000, "operations in the login phase")
		memoryKiB   = pflag.Uint32("argon-memory", 16*1024, "argon2id memory cost in KiB")
		redisAddr   = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	pflag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 || *loginOps <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, ops, and login-ops must be > 0")
		os.Exit(2)
	}

	client, cleanup, err := connectRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = []byte("loadtest-secret-loadtest-secret-!")
	cfg.Password.Memory = *memoryKiB
	cfg.Password.Time = 1
	cfg.Security.MaxLoginAttempts = 1 << 20
	cfg.Security.MaxRefreshAttempts = *ops + 1

	engine, err := authcore.New().
		WithConfig(cfg).
		WithDirectory(memory.New()).
		WithRedis(client).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()

	fmt.Printf("registering %d accounts...\n", *accounts)
	startSeed := time.Now()
	seeded, err := seed(ctx, engine, *accounts, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("registered in %s\n", time.Since(startSeed).Round(time.Millisecond))

	resolveStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.ResolveCaller(ctx, seeded[r.Intn(len(seeded))].pair.AccessToken)
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.Refresh(ctx, seeded[r.Intn(len(seeded))].pair.RefreshToken)
		return err
	})
	loginStats := runPhase(*loginOps, *concurrency, func(r *rand.Rand) error {
		_, _, err := engine.Login(ctx, seeded[r.Intn(len(seeded))].username, "loadtest password")
		return err
	})

	fmt.Println("---- results ----")
	printStats("resolve", resolveStats)
	printStats("refresh", refreshStats)
	printStats("login", loginStats)
}

func connectRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

func seed(ctx context.Context, engine *authcore.Engine, n, concurrency int) ([]seededAccount, error) {
	out := make([]seededAccount, n)

	var (
		wg       sync.WaitGroup
		cursor   int64
		firstErr error
		errOnce  sync.Once
	)
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					return
				}
				username := fmt.Sprintf("student%06d", i)
				_, pair, err := engine.Register(ctx, authcore.RegisterRequest{
					Username: username,
					Password: "loadtest password",
				})
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					return
				}
				out[i] = seededAccount{username: username, pair: pair}
			}
		}()
	}
	wg.Wait()
	return out, firstErr
}

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
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

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
