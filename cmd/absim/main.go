// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command absim simulates streaming A/B tests.
//
// Usage:
//
//	absim run --format table            # batch run, one row per hour
//	absim run --realtime --format csv   # paced by the playback policy
//	absim serve --addr :8088 --watch    # HTTP API, WebSocket stream, /metrics
//	absim watch --start                 # live terminal chart
//	absim config init                   # write absim.yaml with defaults
//	absim config edit                   # interactive editor
//
// Example requests against serve:
//
//	curl -X PUT localhost:8088/v1/abtest/config -d '{"lift": 0.1}'
//	curl -X POST localhost:8088/v1/abtest/start
//	curl localhost:8088/v1/abtest/tallies?confidence=0.99 | jq
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/absim/services/abtest/config"
)

// Set by -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error onto the CLI exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return CLIExitSuccess
	case errors.Is(err, context.Canceled):
		return CLIExitSuccess
	case errors.Is(err, config.ErrConfiguration):
		return CLIExitFindings
	default:
		return CLIExitError
	}
}
