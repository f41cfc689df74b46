package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgentPay-Gate/sdk/go/agentpay"
)

// Demonstrates the agent-side loop: hit a paid resource, parse the 402
// challenge, ask the local daemon to authorize, retry with X-Payment set.
func main() {
	resource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Payment") != "" {
			_ = json.NewEncoder(w).Encode(map[string]string{"report": "42 pages"})
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(agentpay.PaymentRequired{
			X402Version: 1,
			Accepts: []agentpay.PaymentRequirement{{
				Scheme:            "exact",
				Network:           "base",
				MaxAmountRequired: "10000",
				Resource:          "https://api.example.com/report",
				PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				Extra:             &agentpay.TokenMetadata{Name: "USD Coin", Version: "2"},
			}},
		})
	}))
	defer resource.Close()

	gate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(agentpay.Outcome{
			Status:        "ok",
			PaymentHeader: "eyJ4NDAyVmVyc2lvbiI6MX0=",
			PayerAddress:  "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		})
	}))
	defer gate.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := http.Get(resource.URL)
	if err != nil {
		panic(err)
	}
	challenge, err := agentpay.ParsePaymentRequired(resp.Body)
	resp.Body.Close()
	if err != nil {
		panic(err)
	}
	fmt.Printf("got 402 with %d offer(s)\n", len(challenge.Accepts))

	client := agentpay.NewClient(gate.URL, gate.Client())
	outcome, err := client.Authorize(ctx, challenge.Accepts, agentpay.PaymentIntent{
		Reason: "fetch market report",
		Method: "GET",
		URL:    "https://api.example.com/report",
		Caller: "research-agent",
	}, nil)
	if err != nil {
		panic(err)
	}
	fmt.Printf("authorization status=%s payer=%s\n", outcome.Status, outcome.PayerAddress)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resource.URL, nil)
	if err != nil {
		panic(err)
	}
	req.Header.Set("X-Payment", outcome.PaymentHeader)
	paid, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer paid.Body.Close()

	var body map[string]string
	_ = json.NewDecoder(paid.Body).Decode(&body)
	fmt.Printf("paid response: %v\n", body)
}
