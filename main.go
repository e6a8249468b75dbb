/*
main.go

Copyright © 2025 Code Monkey Cybersecurity
Contact: git@cybermonkey.net.au

This file is part of Mnemosyne.

This software is dual-licensed under the Do No Harm License
and the GNU Affero General Public License v3 (AGPL-3.0-or-later).
You may use, modify, and distribute it under the terms of either license.

See LICENSE.agpl and LICENSE.dnh for full details.
*/
package main

import (
	"context"
	"os"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/cmd"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/telemetry"
	"go.uber.org/zap"
)

const telemetryFlushTimeout = 5 * time.Second

func main() {
	logger.Initialize("")

	if err := telemetry.Init("mnemosyne", telemetry.IsEnabled()); err != nil {
		logger.L().Warn("Telemetry init failed, continuing without spans", zap.Error(err))
	}

	code := cmd.Execute()

	// os.Exit skips defers, so flush explicitly.
	flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
	if err := telemetry.Shutdown(flushCtx); err != nil {
		logger.L().Warn("Telemetry flush failed", zap.Error(err))
	}
	cancel()
	logger.Sync()
	os.Exit(code)
}
