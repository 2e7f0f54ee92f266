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

package listener

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/store"

	"go.uber.org/zap"
)

const (
	defaultPollingInterval = 30 * time.Second
	defaultCleanupInterval = 15 * time.Minute
	defaultBatchSize       = 100
	defaultConcurrency     = 8
	maxProcessedRefs       = 10000
)

// Recorder is the ledger surface the listener drives.
type Recorder interface {
	Pending(ctx context.Context, createdBefore time.Time, after store.PendingCursor, limit int) ([]models.Transaction, error)
	UpdateStatus(ctx context.Context, providerRefId string, status models.TxStatus) error
	OpenReconciliations(ctx context.Context, limit int) ([]models.ReconciliationItem, error)
	Replay(ctx context.Context, item models.ReconciliationItem) ([]models.Transaction, error)
}

// StatusListenerConfig contains configuration for StatusListener
type StatusListenerConfig struct {
	Recorder        Recorder
	Gateway         provider.Gateway
	PollingInterval time.Duration
	CleanupInterval time.Duration
	BatchSize       int
	// MinAge keeps the listener away from rows the orchestrator just wrote.
	MinAge      time.Duration
	Concurrency int
	// Out receives the console summary. Defaults to stdout.
	Out io.Writer
	Now func() time.Time
}

// StatusListener polls the provider for pending transfers and settles their
// ledger rows. It also replays transfers whose ledger write failed.
type StatusListener struct {
	recorder Recorder
	gateway  provider.Gateway

	// Provider refs already settled or parked until the next cleanup
	processedRefs map[string]time.Time
	mutex         sync.RWMutex
	// Keyset position of the next pending page. Wraps to the start after
	// a short page so rows that stay pending cannot hide newer ones.
	cursor          store.PendingCursor
	cursorMu        sync.Mutex
	pollingInterval time.Duration
	cleanupInterval time.Duration
	batchSize       int
	minAge          time.Duration
	concurrency     int
	out             io.Writer
	now             func() time.Time

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// NewStatusListener creates a new status listener
func NewStatusListener(cfg StatusListenerConfig) *StatusListener {
	l := &StatusListener{
		recorder:        cfg.Recorder,
		gateway:         cfg.Gateway,
		processedRefs:   make(map[string]time.Time),
		pollingInterval: cfg.PollingInterval,
		cleanupInterval: cfg.CleanupInterval,
		batchSize:       cfg.BatchSize,
		minAge:          cfg.MinAge,
		concurrency:     cfg.Concurrency,
		out:             cfg.Out,
		now:             cfg.Now,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
	if l.pollingInterval <= 0 {
		l.pollingInterval = defaultPollingInterval
	}
	if l.cleanupInterval <= 0 {
		l.cleanupInterval = defaultCleanupInterval
	}
	if l.batchSize <= 0 {
		l.batchSize = defaultBatchSize
	}
	if l.concurrency <= 0 {
		l.concurrency = defaultConcurrency
	}
	if l.out == nil {
		l.out = os.Stdout
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// isProcessed checks if the provider ref was settled or parked recently
func (l *StatusListener) isProcessed(ref string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	_, exists := l.processedRefs[ref]
	return exists
}

// markProcessed records a provider ref. When the map is full it is cleaned
// first; if it is still full the ref is simply polled again next round.
func (l *StatusListener) markProcessed(ref string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if len(l.processedRefs) >= maxProcessedRefs {
		l.cleanupLocked(l.now().UTC())
		if len(l.processedRefs) >= maxProcessedRefs {
			return
		}
	}
	l.processedRefs[ref] = l.now().UTC()
}

// cleanupLoop periodically cleans old processed refs
func (l *StatusListener) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupProcessedRefs()
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupProcessedRefs removes entries older than the cleanup interval
func (l *StatusListener) cleanupProcessedRefs() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cleaned := l.cleanupLocked(l.now().UTC())
	if cleaned > 0 {
		zap.L().Debug("Cleaned up old processed refs",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(l.processedRefs)))
	}
}

func (l *StatusListener) cleanupLocked(now time.Time) int {
	cutoff := now.Add(-l.cleanupInterval)
	cleaned := 0
	for ref, processedTime := range l.processedRefs {
		if !processedTime.After(cutoff) {
			delete(l.processedRefs, ref)
			cleaned++
		}
	}
	return cleaned
}

func (l *StatusListener) trackedRefs() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.processedRefs)
}

// nextPage lists the pending page after the saved cursor and moves the
// cursor past it. An empty page past the start restarts from the oldest row.
func (l *StatusListener) nextPage(ctx context.Context, createdBefore time.Time) ([]models.Transaction, error) {
	l.cursorMu.Lock()
	defer l.cursorMu.Unlock()

	rows, err := l.recorder.Pending(ctx, createdBefore, l.cursor, l.batchSize)
	if err == nil && len(rows) == 0 && !l.cursor.IsZero() {
		l.cursor = store.PendingCursor{}
		rows, err = l.recorder.Pending(ctx, createdBefore, l.cursor, l.batchSize)
	}
	if err != nil {
		return nil, err
	}

	if len(rows) < l.batchSize {
		l.cursor = store.PendingCursor{}
	} else {
		last := rows[len(rows)-1]
		l.cursor = store.PendingCursor{CreatedAt: last.CreatedAt, Id: last.Id}
	}
	return rows, nil
}
