// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/loopcast/internal/persistence/sqlite"
)

func runStorageCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printStorageUsage(os.Stdout)
		return 0
	}

	switch args[0] {
	case "verify":
		return runStorageVerify(args[1:], os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printStorageUsage(os.Stderr)
		return 2
	}
}

func printStorageUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  loopcast storage verify --path PATH [--mode quick|full]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Subcommands:")
	_, _ = fmt.Fprintln(w, "  verify    Check database integrity")
}

func runStorageVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("loopcast storage verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("path", "", "path to the SQLite database file")
	mode := fs.String("mode", "quick", "verification mode: quick or full")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *path == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --path is required")
		return 2
	}
	m := strings.ToLower(strings.TrimSpace(*mode))
	if m != "quick" && m != "full" {
		_, _ = fmt.Fprintf(stderr, "Error: invalid mode %q. Use 'quick' or 'full'.\n", *mode)
		return 2
	}

	issues, err := sqlite.VerifyIntegrity(context.Background(), *path, m)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Verification failed: %v\n", err)
		return 1
	}
	if len(issues) > 0 {
		_, _ = fmt.Fprintln(stderr, "Corruption detected:")
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stderr, "  - %s\n", issue)
		}
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "Integrity verified: ok")
	return 0
}
