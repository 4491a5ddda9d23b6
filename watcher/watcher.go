// Package watcher scans a settlement chain for token transfers into deposit
// addresses and drives the matching escrows through the deposit states. The
// scan cursor lives in the shared key-value coordinator so a restarted
// watcher resumes where it stopped, and a periodic deep rescan re-reads a
// longer tail to catch transfers missed around reorgs or downtime.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trustora/chainrpc"
	"trustora/chains"
	"trustora/escrow"
	"trustora/kv"
	"trustora/models"
	"trustora/storage"
)

// Config controls one chain's scan loop.
type Config struct {
	Chain          chains.Chain
	Confirmations  int
	ScanInterval   time.Duration
	RescanInterval time.Duration
	ScanTail       uint64
	RescanDepth    uint64
}

// Normalize fills unset fields with the defaults.
func (c Config) Normalize() Config {
	if c.Confirmations == 0 {
		c.Confirmations = chains.DefaultConfirmations(c.Chain)
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = 30 * time.Second
	}
	if c.RescanInterval == 0 {
		c.RescanInterval = 300 * time.Second
	}
	if c.ScanTail == 0 {
		c.ScanTail = 500
	}
	if c.RescanDepth == 0 {
		c.RescanDepth = 5000
	}
	return c
}

// Watcher runs the scan loop for one chain.
type Watcher struct {
	cfg     Config
	backend chainrpc.Backend
	store   *storage.Store
	coord   kv.Store
	log     *slog.Logger
	nowFn   func() time.Time
	metrics *Metrics
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithClock overrides the watcher's clock.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.nowFn = now }
}

// WithMetrics attaches a metrics set.
func WithMetrics(m *Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// New builds a watcher.
func New(cfg Config, backend chainrpc.Backend, store *storage.Store, coord kv.Store, log *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		cfg:     cfg.Normalize(),
		backend: backend,
		store:   store,
		coord:   coord,
		log:     log.With("chain", string(cfg.Chain)),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run scans on the configured interval until the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		if err := w.ScanOnce(ctx); err != nil {
			w.log.Error("scan failed", "error", err)
			if w.metrics != nil {
				w.metrics.ScanErrors.WithLabelValues(string(w.cfg.Chain)).Inc()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce performs one scan pass: pick the block range, match confirmed
// transfers against open escrows, and advance the cursor.
func (w *Watcher) ScanOnce(ctx context.Context) error {
	head, err := w.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("watcher: head: %w", err)
	}

	from, deep, err := w.scanStart(ctx, head)
	if err != nil {
		return err
	}
	if from > head {
		return nil
	}

	open, err := w.store.OpenDepositEscrows(ctx, w.cfg.Chain)
	if err != nil {
		return fmt.Errorf("watcher: open escrows: %w", err)
	}
	if len(open) == 0 {
		return w.advanceCursor(ctx, head)
	}
	byAddress := make(map[string]*models.Escrow, len(open))
	for i := range open {
		byAddress[open[i].DepositAddress] = &open[i]
	}

	events, err := w.backend.TokenTransfers(ctx, from, head)
	if err != nil {
		return fmt.Errorf("watcher: transfers: %w", err)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Block != events[j].Block {
			return events[i].Block < events[j].Block
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	for _, ev := range events {
		target, ok := byAddress[ev.To]
		if !ok {
			continue
		}
		confs := head - ev.Block
		if confs < uint64(w.cfg.Confirmations) {
			w.log.Debug("transfer awaiting confirmations",
				"tx", ev.TxHash, "block", ev.Block, "head", head)
			continue
		}
		if err := w.recordDeposit(ctx, target.ID, ev, int(confs)); err != nil {
			return fmt.Errorf("watcher: record deposit %s: %w", ev.TxHash, err)
		}
	}

	if w.metrics != nil {
		w.metrics.Scans.WithLabelValues(string(w.cfg.Chain), scanKind(deep)).Inc()
	}
	return w.advanceCursor(ctx, head)
}

// scanStart picks the first block of this pass and flags deep rescans.
func (w *Watcher) scanStart(ctx context.Context, head uint64) (uint64, bool, error) {
	now := w.nowFn()

	lastRescan, err := w.coordInt(ctx, chains.RescanKey(w.cfg.Chain))
	if err != nil {
		return 0, false, err
	}
	if now.Unix()-lastRescan >= int64(w.cfg.RescanInterval/time.Second) {
		if err := w.coord.Set(ctx, chains.RescanKey(w.cfg.Chain),
			strconv.FormatInt(now.Unix(), 10), 0); err != nil {
			return 0, false, fmt.Errorf("watcher: store rescan mark: %w", err)
		}
		return clampStart(head, w.cfg.RescanDepth), true, nil
	}

	cursor, err := w.coordInt(ctx, chains.CursorKey(w.cfg.Chain))
	if err != nil {
		return 0, false, err
	}
	// Tail pass covers max(head-tail, cursor+1) so a stale cursor never
	// stretches one pass beyond the tail window.
	start := clampStart(head, w.cfg.ScanTail)
	if next := uint64(cursor) + 1; cursor > 0 && next > start {
		start = next
	}
	return start, false, nil
}

func (w *Watcher) recordDeposit(ctx context.Context, id uuid.UUID, ev chainrpc.TransferEvent, confs int) error {
	amount := escrow.FromMicroUnits(ev.AmountMicro)
	return w.store.WithEscrowForUpdate(ctx, id, func(tx *gorm.DB, e *models.Escrow) error {
		if !escrow.CanRecordDeposit(e.DepositTxHash, ev.TxHash) {
			// One deal, one deposit transaction. Anything else on the
			// address is an operator problem, not a top-up.
			w.log.Warn("ignoring extra deposit on recorded address",
				"escrow", e.ID, "tx", ev.TxHash, "recorded_tx", *e.DepositTxHash)
			return nil
		}
		if e.DepositTxHash != nil {
			return nil // same transfer seen again
		}
		if e.Status != escrow.StatusAwaitingDeposit {
			return nil
		}

		received := escrow.Quantize(amount)
		txHash := ev.TxHash
		e.DepositTxHash = &txHash
		e.DepositConfirmations = confs
		e.ReceivedAmount = received

		for _, next := range escrow.DepositSequence(received, e.Amount) {
			if err := w.store.Transition(e, next); err != nil {
				return err
			}
		}
		w.log.Info("deposit recorded",
			"escrow", e.ID, "tx", ev.TxHash, "amount", escrow.FormatAmount(received),
			"status", string(e.Status))
		if w.metrics != nil {
			w.metrics.Deposits.WithLabelValues(string(w.cfg.Chain), string(e.Status)).Inc()
		}
		return nil
	})
}

func (w *Watcher) advanceCursor(ctx context.Context, head uint64) error {
	if err := w.coord.Set(ctx, chains.CursorKey(w.cfg.Chain),
		strconv.FormatUint(head, 10), 0); err != nil {
		return fmt.Errorf("watcher: store cursor: %w", err)
	}
	return nil
}

func (w *Watcher) coordInt(ctx context.Context, key string) (int64, error) {
	raw, err := w.coord.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("watcher: read %s: %w", key, err)
	}
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("watcher: parse %s: %w", key, err)
	}
	return v, nil
}

func clampStart(head, depth uint64) uint64 {
	if head <= depth {
		return 0
	}
	return head - depth
}

func scanKind(deep bool) string {
	if deep {
		return "deep"
	}
	return "tail"
}
