// Package main is a minimal health probe for distroless containers. It exits 0
// when the gate's /health endpoint answers 200 and 1 otherwise. The port follows
// ANTIDDOS_PORT so the probe matches the server's listener.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"antiddos/internal/version"
)

func main() {
	port := os.Getenv("ANTIDDOS_PORT")
	if port == "" {
		port = "8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:"+port+"/health", nil)
	if err != nil {
		os.Exit(1)
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
