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
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// PollSummary counts what one polling round did.
type PollSummary struct {
	Checked  int
	Updated  int
	Parked   int
	Failed   int
	Replayed int
}

// Start runs one round immediately, then polls until Stop or ctx is done.
func (l *StatusListener) Start(ctx context.Context) error {
	if l.recorder == nil || l.gateway == nil {
		return errors.New("status listener needs a recorder and a gateway")
	}
	zap.L().Info("Starting status listener",
		zap.String("provider", l.gateway.Name()),
		zap.Duration("polling_interval", l.pollingInterval),
		zap.Int("batch_size", l.batchSize))

	l.started.Store(true)
	go l.pollLoop(ctx)
	go l.cleanupLoop(ctx)
	return nil
}

// Stop gracefully stops the listener. Safe to call more than once.
func (l *StatusListener) Stop() {
	l.stopOnce.Do(func() {
		zap.L().Info("Stopping status listener")
		close(l.stopChan)
		if l.started.Load() {
			<-l.doneChan
		}
		zap.L().Info("Status listener stopped")
	})
}

// pollLoop runs the main polling loop
func (l *StatusListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.pollingInterval)
	defer ticker.Stop()

	l.PollOnce(ctx)

	for {
		select {
		case <-ticker.C:
			l.PollOnce(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// PollOnce replays open reconciliation items, then refreshes the status of
// pending rows old enough to be settled upstream.
func (l *StatusListener) PollOnce(ctx context.Context) PollSummary {
	var summary PollSummary
	summary.Replayed = l.replayReconciliations(ctx)

	rows, err := l.nextPage(ctx, l.now().UTC().Add(-l.minAge))
	if err != nil {
		zap.L().Error("Failed to list pending transactions", zap.Error(err))
		return summary
	}

	refs := pendingRefs(rows)
	toCheck := refs[:0]
	for _, ref := range refs {
		if !l.isProcessed(ref) {
			toCheck = append(toCheck, ref)
		}
	}
	if len(toCheck) == 0 {
		return summary
	}

	fmt.Fprintf(l.out, "\n%s[%s] Checking %d pending transfers on %s%s\n",
		colorCyan, l.now().Format("15:04:05"), len(toCheck), l.gateway.Name(), colorReset)

	var updated, parked, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, ref := range toCheck {
		ref := ref
		g.Go(func() error {
			switch l.checkTransfer(gctx, ref) {
			case outcomeUpdated:
				updated.Add(1)
			case outcomeParked:
				parked.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Checked = len(toCheck)
	summary.Updated = int(updated.Load())
	summary.Parked = int(parked.Load())
	summary.Failed = int(failed.Load())
	return summary
}

type checkOutcome int

const (
	outcomeUnchanged checkOutcome = iota
	outcomeUpdated
	outcomeParked
	outcomeFailed
)

// checkTransfer looks one provider reference up and applies a terminal status.
func (l *StatusListener) checkTransfer(ctx context.Context, ref string) checkOutcome {
	st, err := l.gateway.GetTransfer(ctx, ref)
	if err != nil {
		if provider.KindOf(err) == provider.Rejected {
			// Lookups the provider refuses are retried after the next cleanup.
			l.markProcessed(ref)
			fmt.Fprintf(l.out, "  %s~ %s parked: %s%s\n", colorYellow, ref, err, colorReset)
			zap.L().Warn("Provider refused status lookup",
				zap.String("provider_ref_id", ref),
				zap.Error(err))
			return outcomeParked
		}
		fmt.Fprintf(l.out, "  %s✗ %s: %s%s\n", colorRed, ref, err, colorReset)
		zap.L().Error("Failed to fetch transfer status",
			zap.String("provider_ref_id", ref),
			zap.Error(err))
		return outcomeFailed
	}

	if !st.Status.IsTerminal() {
		zap.L().Debug("Transfer still pending",
			zap.String("provider_ref_id", ref),
			zap.String("raw_status", st.RawStatus))
		return outcomeUnchanged
	}

	if err := l.recorder.UpdateStatus(ctx, ref, st.Status); err != nil {
		if errors.Is(err, store.ErrImmutableTransaction) {
			l.markProcessed(ref)
			zap.L().Warn("Ledger rows already settled with another status",
				zap.String("provider_ref_id", ref),
				zap.String("status", string(st.Status)),
				zap.Error(err))
			return outcomeParked
		}
		fmt.Fprintf(l.out, "  %s✗ %s %s: %s%s\n", colorRed, ref, st.Status, err, colorReset)
		zap.L().Error("Failed to update transaction status",
			zap.String("provider_ref_id", ref),
			zap.String("status", string(st.Status)),
			zap.Error(err))
		return outcomeFailed
	}

	l.markProcessed(ref)
	color := colorGreen
	if st.Status != models.TxConfirmed {
		color = colorYellow
	}
	fmt.Fprintf(l.out, "  %s✓ %s %s (%s)%s\n", color, ref, st.Status, st.RawStatus, colorReset)
	zap.L().Info("Transfer settled",
		zap.String("provider_ref_id", ref),
		zap.String("status", string(st.Status)),
		zap.String("raw_status", st.RawStatus))
	return outcomeUpdated
}

// replayReconciliations retries the ledger write of transfers the provider
// accepted. Each success resolves its item.
func (l *StatusListener) replayReconciliations(ctx context.Context) int {
	items, err := l.recorder.OpenReconciliations(ctx, l.batchSize)
	if err != nil {
		zap.L().Error("Failed to list reconciliation items", zap.Error(err))
		return 0
	}

	replayed := 0
	for _, item := range items {
		if _, err := l.recorder.Replay(ctx, item); err != nil {
			zap.L().Warn("Reconciliation replay failed",
				zap.String("id", item.Id),
				zap.String("provider_ref_id", item.ProviderRefId),
				zap.Int("attempts", item.Attempts+1),
				zap.Error(err))
			continue
		}
		replayed++
		fmt.Fprintf(l.out, "  %s✓ replayed %s%s\n", colorGreen, item.ProviderRefId, colorReset)
	}
	return replayed
}

// pendingRefs returns the distinct provider references in row order. Both
// legs of an internal transfer share one reference.
func pendingRefs(rows []models.Transaction) []string {
	seen := make(map[string]bool, len(rows))
	refs := make([]string, 0, len(rows))
	for _, row := range rows {
		ref := models.Deref(row.ProviderRefId)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}
