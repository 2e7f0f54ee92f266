/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custody-wallet-go/internal/common"
	"custody-wallet-go/internal/config"
	"custody-wallet-go/internal/listener"

	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "Run a single polling round and exit")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting transfer status listener")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	l := listener.NewStatusListener(listener.StatusListenerConfig{
		Recorder:        services.Recorder,
		Gateway:         services.Gateway,
		PollingInterval: cfg.Listener.PollingInterval,
		CleanupInterval: cfg.Listener.CleanupInterval,
		BatchSize:       cfg.Listener.BatchSize,
		MinAge:          cfg.Listener.MinAge,
	})

	if *once {
		summary := l.PollOnce(ctx)
		zap.L().Info("Polling round finished",
			zap.Int("checked", summary.Checked),
			zap.Int("updated", summary.Updated),
			zap.Int("parked", summary.Parked),
			zap.Int("failed", summary.Failed),
			zap.Int("replayed", summary.Replayed))
		return
	}

	if err := l.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start listener", zap.Error(err))
	}
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping listener...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Listener stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
