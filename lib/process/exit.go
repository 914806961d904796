// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds process-level exit helpers shared by the
// arena-server and arena-worker binaries.
package process

import (
	"fmt"
	"os"
)

// Exit codes. The lobby process exits with ExitOK on a clean or drained
// shutdown and ExitBootstrap on any fatal bootstrap error (game module
// registration failure, listener bind failure). Workers exit with
// ExitBootstrap when the handoff or environment bootstrap fails.
const (
	ExitOK        = 0
	ExitBootstrap = 1
)

// Fatal writes "error: err" to stderr and exits with ExitBootstrap. Use
// it in main() for errors from run() where the structured logger may not
// be initialized yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitBootstrap)
}
