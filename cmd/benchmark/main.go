package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/bankops/internal/auth"
	"github.com/punchamoorthee/bankops/internal/seed"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	users       int
	jwtSecret   string
	replayRate  float64
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Completed
	fail409       uint64 // Idempotent replays rejected
	fail400       uint64 // Business rejections (e.g. insufficient balance)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&users, "users", 1000, "Number of seeded users")
	flag.StringVar(&jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "Secret used to sign bearer tokens")
	flag.Float64Var(&replayRate, "replay", 0.05, "Fraction of requests that reuse the previous Idempotency-Key")
}

func main() {
	flag.Parse()
	if jwtSecret == "" {
		log.Fatal("a JWT secret is required (-jwt-secret or JWT_SECRET)")
	}
	if users < 2 {
		log.Fatal("at least two seeded users are required")
	}

	tokens, err := issueTokens()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, tokens)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// issueTokens signs one bearer token per seeded user.
func issueTokens() ([]string, error) {
	tokens := make([]string, users)
	for i := range tokens {
		t, err := auth.IssueToken([]byte(jwtSecret), seed.UserID(i), duration+time.Hour)
		if err != nil {
			return nil, err
		}
		tokens[i] = t
	}
	return tokens, nil
}

func worker(wg *sync.WaitGroup, start time.Time, tokens []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	lastKey := ""

	for time.Since(start) < duration {
		from, to := generateUsers()

		key := fmt.Sprintf("bench-%d-%d-%d", from, to, time.Now().UnixNano())
		if lastKey != "" && rand.Float64() < replayRate {
			key = lastKey
		}
		lastKey = key

		payload := map[string]interface{}{
			"recipientEmail": seed.Email(to),
			"amount":         "1.00",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tokens[from])
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusBadRequest:
			atomic.AddUint64(&fail400, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func generateUsers() (int, int) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic moves money between users 0 and 1
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return 0, 1
			}
			return 1, 0
		}
	}

	// Uniform Random
	a := rand.Intn(users)
	b := rand.Intn(users)
	for a == b {
		b = rand.Intn(users)
	}
	return a, b
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f400 := atomic.LoadUint64(&fail400)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var replayPct float64
	if total > 0 {
		replayPct = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success_completed": s200,
		"rejected_replay":   f409,
		"replay_pct":        replayPct,
		"rejected_business": f400,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
