// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// runHealthcheckCLI is the container HEALTHCHECK entry point.
func runHealthcheckCLI(args []string) int {
	fs := flag.NewFlagSet("healthcheck", flag.ContinueOnError)
	mode := fs.String("mode", "ready", "healthcheck mode: ready (default) or live")
	port := fs.Int("port", 8080, "API port to check")
	timeout := fs.Duration("timeout", 5*time.Second, "check timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return checkHealth(fmt.Sprintf("http://localhost:%d", *port), *mode, *timeout)
}

func checkHealth(base, mode string, timeout time.Duration) int {
	path := "/healthz"
	if mode == "ready" {
		path = "/readyz"
	}

	client := http.Client{Timeout: timeout}
	resp, err := client.Get(base + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Healthcheck failed (network): %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Healthcheck failed (status): %s\n", resp.Status)
		return 1
	}
	fmt.Printf("Healthcheck successful (%s)\n", mode)
	return 0
}
