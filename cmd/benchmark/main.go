package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config holds the benchmark settings
var (
	targetURL     string
	concurrency   int
	duration      time.Duration
	workload      string
	agentCount    int
	agentPrefix   string
	agentPassword string
	adminUser     string
	adminPassword string
	replayRate    float64
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	providerFail  uint64 // Created but reversed after provider refusal
	fail422       uint64 // Insufficient balance / validation
	failOther     uint64
)

type agent struct {
	id    int64
	token string
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&agentCount, "agents", 100, "Number of seeded agents to spread load over")
	flag.StringVar(&agentPrefix, "prefix", "agent", "Seeded agent username prefix")
	flag.StringVar(&agentPassword, "password", "agent-pass", "Seeded agent password")
	flag.StringVar(&adminUser, "admin-user", "admin", "Administrator used for the conservation check")
	flag.StringVar(&adminPassword, "admin-password", "", "Administrator password (skip the check when empty)")
	flag.Float64Var(&replayRate, "replay-rate", 0.05, "Fraction of requests that resend the previous Idempotency-Key")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	client := &http.Client{Timeout: 5 * time.Second}
	agents, err := loginAgents(client)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, client, agents, start)
	}

	wg.Wait()
	elapsed := time.Since(start)

	drifted := -1
	if adminPassword != "" {
		drifted, err = checkConservation(client, agents)
		if err != nil {
			log.Printf("conservation check failed: %v", err)
		}
	}
	printResults(elapsed, drifted)
	if drifted > 0 {
		os.Exit(1)
	}
}

func login(client *http.Client, username, password string) (*agent, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := client.Post(targetURL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", username, resp.StatusCode)
	}

	var out struct {
		Token   string `json:"token"`
		Account struct {
			ID int64 `json:"id"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &agent{id: out.Account.ID, token: out.Token}, nil
}

func loginAgents(client *http.Client) ([]*agent, error) {
	agents := make([]*agent, 0, agentCount)
	for i := 1; i <= agentCount; i++ {
		a, err := login(client, fmt.Sprintf("%s%d", agentPrefix, i), agentPassword)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func worker(wg *sync.WaitGroup, client *http.Client, agents []*agent, start time.Time) {
	defer wg.Done()
	lastKey := make(map[int64]string)
	lastBody := make(map[int64][]byte)

	for time.Since(start) < duration {
		a := pickAgent(agents)

		key := uuid.NewString()
		body := orderBody()
		// Resending the previous key with the same body must replay, not debit again.
		if prev, ok := lastKey[a.id]; ok && rand.Float64() < replayRate {
			key, body = prev, lastBody[a.id]
		}
		lastKey[a.id], lastBody[a.id] = key, body

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/topups", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.token)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			var res struct {
				ProviderError string `json:"provider_error"`
			}
			if json.NewDecoder(resp.Body).Decode(&res) == nil && res.ProviderError != "" {
				atomic.AddUint64(&providerFail, 1)
			} else {
				atomic.AddUint64(&success201, 1)
			}
		case 200:
			atomic.AddUint64(&success200, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

var operators = []string{"ooredoo", "djezzy", "mobilis"}

func orderBody() []byte {
	payload := map[string]interface{}{
		"customer_name": "bench",
		"phone_number":  fmt.Sprintf("05%08d", rand.Intn(100000000)),
		"operator":      operators[rand.Intn(len(operators))],
		"face_value":    []int{50, 100, 200, 500}[rand.Intn(4)],
	}
	body, _ := json.Marshal(payload)
	return body
}

func pickAgent(agents []*agent) *agent {
	if workload == "hotspot" && len(agents) >= 2 {
		// Hotspot: 90% of traffic goes to the first two agents
		if rand.Float32() < 0.90 {
			return agents[rand.Intn(2)]
		}
	}

	// Uniform Random
	return agents[rand.Intn(len(agents))]
}

// checkConservation asks the server to reconcile every agent that took traffic.
func checkConservation(client *http.Client, agents []*agent) (int, error) {
	admin, err := login(client, adminUser, adminPassword)
	if err != nil {
		return -1, err
	}

	drifted := 0
	for _, a := range agents {
		req, _ := http.NewRequest("GET", targetURL+"/api/v1/accounts/"+strconv.FormatInt(a.id, 10)+"/reconcile", nil)
		req.Header.Set("Authorization", "Bearer "+admin.token)
		resp, err := client.Do(req)
		if err != nil {
			return -1, err
		}
		var rec struct {
			Balance    decimal.Decimal `json:"balance"`
			LedgerSum  decimal.Decimal `json:"ledger_sum"`
			Consistent bool            `json:"consistent"`
		}
		err = json.NewDecoder(resp.Body).Decode(&rec)
		resp.Body.Close()
		if err != nil {
			return -1, err
		}
		if !rec.Consistent {
			drifted++
			log.Printf("account %d drifted: balance=%s ledger_sum=%s", a.id, rec.Balance.StringFixed(2), rec.LedgerSum.StringFixed(2))
		}
	}
	return drifted, nil
}

func printResults(d time.Duration, drifted int) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	pf := atomic.LoadUint64(&providerFail)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	rejectRate := 0.0
	if total > 0 {
		rejectRate = float64(f422) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_tps":   tps,
		"success_created":  s201,
		"success_replay":   s200,
		"provider_failed":  pf,
		"rejected_422":     f422,
		"reject_rate_pct":  rejectRate,
		"errors":           fErr,
		"drifted_accounts": drifted,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("unable to write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
