// smoke-checkout runs a quick end-to-end pass against a running API:
// an accessories checkout must settle as paid and a firearm checkout by a
// customer with no verified FFL must come back held.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

type orderResponse struct {
	Order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
}

func main() {
	base := os.Getenv("RANGEMARK_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}
	customer := fmt.Sprintf("smoke-%d", rand.New(rand.NewSource(time.Now().UnixNano())).Int())

	paid := checkout(client, base, customer, map[string]any{
		"customer_id": customer,
		"lines": []map[string]any{
			{"sku": "CASE-1", "quantity": 1, "unit_price_cents": 4999},
		},
		"payment": map[string]any{"token": "tok_smoke"},
	})
	if paid.Order.Status != "paid" {
		log.Fatalf("accessories checkout status=%s, want paid", paid.Order.Status)
	}

	held := checkout(client, base, customer, map[string]any{
		"customer_id": customer,
		"lines": []map[string]any{
			{"sku": "RIFLE-10", "quantity": 1, "unit_price_cents": 64999, "is_firearm": true},
		},
		"payment": map[string]any{"token": "tok_smoke"},
	})
	if held.Order.Status != "hold_ffl" {
		log.Fatalf("firearm checkout status=%s, want hold_ffl", held.Order.Status)
	}

	resp, err := client.Get(base + "/v1/orders/" + held.Order.ID)
	if err != nil {
		log.Fatalf("order lookup: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("order lookup status=%d", resp.StatusCode)
	}

	fmt.Printf("✅ checkout smoke test passed: paid=%s held=%s\n", paid.Order.ID, held.Order.ID)
}

func checkout(client *http.Client, base, customer string, body map[string]any) orderResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal checkout: %v", err)
	}
	resp, err := client.Post(base+"/v1/checkout", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("checkout %s: %v", customer, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("checkout status=%d", resp.StatusCode)
	}
	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode checkout response: %v", err)
	}
	return out
}
