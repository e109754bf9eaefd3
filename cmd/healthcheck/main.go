// Package main provides a minimal HTTP healthcheck binary for container
// probes against a running cincan-registry serve instance. It performs a
// GET request and exits with code 0 on success (2xx) or code 1 on failure.
// Usage: healthcheck [url]. Without an argument the target is the local
// serve health endpoint on the configured port.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gitlab.com/cincan/cincan-registry/internal/config"
)

func targetURL() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	port := 5001
	if cfg, err := config.Load(""); err == nil {
		port = cfg.Port
	}
	return fmt.Sprintf("http://localhost:%d/health", port)
}

func main() {
	url := targetURL()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	os.Exit(1)
}
