// Load test for the evaluation pipeline: hammers an in-process engine with
// synthetic telemetry and full challenge lifecycles, then reports latency
// percentiles and throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/engine"
	"github.com/trustengine/backend/internal/ingest"
)

type loadTestConfig struct {
	NumSessions int
	Concurrency int
}

type loadTestStats struct {
	Evaluations   uint64
	Challenges    uint64
	Verifications uint64
	Blocked       uint64
	Failures      uint64
}

func main() {
	numSessions := flag.Int("sessions", 1000, "Number of sessions to simulate")
	concurrency := flag.Int("concurrency", 50, "Number of concurrent workers")
	flag.Parse()

	config := loadTestConfig{
		NumSessions: *numSessions,
		Concurrency: *concurrency,
	}

	slog.Info("starting trust engine load test",
		"sessions", config.NumSessions,
		"concurrency", config.Concurrency)

	stats := &loadTestStats{}
	latencies := runLoadTest(config, stats)
	printResults(config, stats, latencies)
}

func runLoadTest(config loadTestConfig, stats *loadTestStats) []time.Duration {
	eng := engine.New(engine.Options{})
	source := ingest.NewSyntheticSource()
	ctx := context.Background()

	sessionChan := make(chan int, config.NumSessions)
	for i := 0; i < config.NumSessions; i++ {
		sessionChan <- i
	}
	close(sessionChan)

	var (
		mu        sync.Mutex
		latencies []time.Duration
		wg        sync.WaitGroup
	)

	start := time.Now()
	for w := 0; w < config.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range sessionChan {
				elapsed, err := runSession(ctx, eng, source, id, stats)
				if err != nil {
					atomic.AddUint64(&stats.Failures, 1)
					continue
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	slog.Info("load test complete", "wall_time", time.Since(start))
	return latencies
}

// runSession drives one full lifecycle: evaluate, and when the session is
// not blocked, issue and verify a challenge with a wrong factor set.
func runSession(ctx context.Context, eng *engine.Engine, source *ingest.SyntheticSource, id int, stats *loadTestStats) (time.Duration, error) {
	sessionID := fmt.Sprintf("loadtest_session_%06d", id)
	sample := source.Sample(sessionID, fmt.Sprintf("loadtest_user_%06d", id))

	start := time.Now()
	req, err := eng.Evaluate(ctx, sample)
	if err != nil {
		return 0, err
	}
	atomic.AddUint64(&stats.Evaluations, 1)

	if req.Level == core.LevelBlocked {
		atomic.AddUint64(&stats.Blocked, 1)
		return time.Since(start), nil
	}

	if _, err := eng.IssueChallenge(ctx, sessionID); err != nil {
		return 0, err
	}
	atomic.AddUint64(&stats.Challenges, 1)

	// A bogus OTP exercises the consume-on-failure path.
	if _, err := eng.Verify(ctx, sessionID, core.SubmittedFactors{OTP: "000000"}); err != nil {
		atomic.AddUint64(&stats.Verifications, 1)
	}

	return time.Since(start), nil
}

func printResults(config loadTestConfig, stats *loadTestStats, latencies []time.Duration) {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	percentile := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		idx := int(float64(len(latencies)-1) * p)
		return latencies[idx]
	}

	fmt.Println()
	fmt.Println("=== Trust Engine Load Test Results ===")
	fmt.Printf("Sessions:        %d\n", config.NumSessions)
	fmt.Printf("Concurrency:     %d\n", config.Concurrency)
	fmt.Printf("Evaluations:     %d\n", stats.Evaluations)
	fmt.Printf("Blocked:         %d\n", stats.Blocked)
	fmt.Printf("Challenges:      %d\n", stats.Challenges)
	fmt.Printf("Verify attempts: %d\n", stats.Verifications)
	fmt.Printf("Failures:        %d\n", stats.Failures)
	if len(latencies) > 0 {
		fmt.Printf("Latency p50:     %v\n", percentile(0.50))
		fmt.Printf("Latency p95:     %v\n", percentile(0.95))
		fmt.Printf("Latency p99:     %v\n", percentile(0.99))
		fmt.Printf("Latency max:     %v\n", latencies[len(latencies)-1])
	}
}
