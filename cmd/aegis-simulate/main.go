// Command aegis-simulate drives synthetic card authorizations against a
// running gateway and reports the decision mix and latency percentiles. It
// signs each envelope the way the card network would.
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
	"sort"
	"time"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/cardauth"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
)

type scenario struct {
	name     string
	mcc      string
	merchant string
	minCents int64
	maxCents int64
}

var scenarios = []scenario{
	{"groceries", "5411", "SAFEWAY #112", 1500, 15000},
	{"restaurant", "5812", "OLIVE GARDEN", 2500, 9000},
	{"electronics", "5732", "BEST BUY #44", 20000, 150000},
	{"gift-cards", "5945", "GIFTCARDS.COM", 10000, 50000},
	{"wire", "4829", "WESTERN UNION", 50000, 250000},
	{"atm", "6051", "CRYPTO ATM 77", 20000, 80000},
}

func main() {
	target := flag.String("target", "http://localhost:8080/api/card/authorize", "webhook URL")
	header := flag.String("header", cardauth.DefaultSignatureHeader, "signature header name")
	trials := flag.Int("n", 1000, "number of authorizations")
	cardToken := flag.String("card", "card-tok-1", "card token to present")
	seed := flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
	flag.Parse()

	secret := os.Getenv("CARD_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("CARD_WEBHOOK_SECRET is required to sign envelopes")
	}
	signer := crypto.NewSigner([]byte(secret))
	rng := rand.New(rand.NewSource(*seed))
	client := &http.Client{Timeout: 5 * time.Second}

	latencies := make([]time.Duration, 0, *trials)
	results := map[string]int{}

	for i := 0; i < *trials; i++ {
		sc := scenarios[rng.Intn(len(scenarios))]
		amount := sc.minCents + rng.Int63n(sc.maxCents-sc.minCents)

		envelope := map[string]interface{}{
			"token":      fmt.Sprintf("sim-%d", i),
			"card_token": *cardToken,
			"amount":     amount,
			"merchant": map[string]string{
				"descriptor": sc.merchant,
				"mcc":        sc.mcc,
				"city":       "Phoenix",
				"state":      "AZ",
			},
			"created": time.Now().UTC().Format(time.RFC3339),
		}
		body, err := json.Marshal(envelope)
		if err != nil {
			log.Fatalf("encode: %v", err)
		}

		req, err := http.NewRequest(http.MethodPost, *target, bytes.NewReader(body))
		if err != nil {
			log.Fatalf("request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(*header, signer.Sign(body))

		start := time.Now()
		resp, err := client.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			results["TRANSPORT_ERROR"]++
			continue
		}
		latencies = append(latencies, elapsed)

		var auth cardauth.AuthResponse
		if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
			results[fmt.Sprintf("HTTP_%d", resp.StatusCode)]++
		} else {
			results[auth.Result]++
		}
		resp.Body.Close()
	}

	report(*trials, results, latencies)
}

func report(trials int, results map[string]int, latencies []time.Duration) {
	fmt.Printf("\n%d authorizations\n", trials)

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-16s %6d (%.1f%%)\n", k, results[k], 100*float64(results[k])/float64(trials))
	}

	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("\nlatency  p50=%s  p95=%s  p99=%s  max=%s\n",
		percentile(latencies, 50), percentile(latencies, 95),
		percentile(latencies, 99), latencies[len(latencies)-1])
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
