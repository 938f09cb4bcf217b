// cmd/intent/main.go: generates a private redemption intent (secret,
// nullifier, commitment) and optionally redeems it against a running gate.
//
// Usage examples:
//
//	# print a fresh intent
//	go run ./cmd/intent/
//
//	# generate and redeem in one go
//	go run ./cmd/intent/ --url http://localhost:8080/api/private-premium
//
//	# redeem an intent generated earlier
//	go run ./cmd/intent/ --url http://localhost:8080/api/private-premium \
//	  --secret <hex> --nullifier <hex>
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/0gfoundation/0g-x402-gate/internal/scheme"
)

func main() {
	url := flag.String("url", "", "private-premium endpoint to redeem against; empty only prints the intent")
	secret := flag.String("secret", "", "reuse this secret (hex) instead of generating one")
	null := flag.String("nullifier", "", "reuse this nullifier (hex) instead of generating one")
	flag.Parse()

	proof, err := intent(*secret, *null)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(proof, "", "  ")
	fmt.Println(string(out))
	if *url == "" {
		return
	}

	status, body, err := redeem(*url, proof)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("HTTP %d\n%s\n", status, body)
	if status != http.StatusOK {
		os.Exit(1)
	}
}

func intent(secret, null string) (*scheme.RedemptionProof, error) {
	if secret == "" && null == "" {
		return scheme.NewIntent()
	}
	if secret == "" || null == "" {
		return nil, fmt.Errorf("--secret and --nullifier must be given together")
	}
	p := &scheme.RedemptionProof{Commitment: scheme.Commit(secret, null), Nullifier: null, Secret: secret}
	if err := scheme.ValidateRedemption(p); err != nil {
		return nil, fmt.Errorf("secret and nullifier must be 64 hex characters: %w", err)
	}
	return p, nil
}

func redeem(url string, p *scheme.RedemptionProof) (int, string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return 0, "", err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}
