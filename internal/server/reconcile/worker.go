// Package reconcile settles executions left pending after an ambiguous broadcast.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/zhenzou/executors"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/metrics"
	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/pkg/keylock"
	"github.com/looplj/agentpay/internal/server/biz"
)

type Config struct {
	CRON string `json:"cron" yaml:"cron" conf:"cron"`

	// MinAge leaves fresh pending records to the request that is still waiting on them.
	MinAge time.Duration `json:"min_age" yaml:"min_age" conf:"min_age"`

	// StaleAfter is how long a transaction may stay unmined before, if the node no longer
	// knows it, it is treated as dropped.
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after" conf:"stale_after"`

	BatchSize   int           `json:"batch_size" yaml:"batch_size" conf:"batch_size"`
	Concurrency int           `json:"concurrency" yaml:"concurrency" conf:"concurrency"`
	LockTimeout time.Duration `json:"lock_timeout" yaml:"lock_timeout" conf:"lock_timeout"`
}

func (c Config) withDefaults() Config {
	if c.CRON == "" {
		c.CRON = "*/1 * * * *"
	}

	if c.MinAge <= 0 {
		c.MinAge = time.Minute
	}

	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}

	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}

	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}

	return c
}

type Params struct {
	fx.In

	Config   Config
	Chain    chain.Client
	Locker   keylock.Locker
	Log      *biz.ExecutionLog
	Ledger   *biz.SpendLedger
	Clock    *biz.Clock
	Executor executors.ScheduledExecutor
	Metrics  *metrics.Recorder `optional:"true"`
}

// Worker periodically resolves pending execution records against the chain:
// mined ones become success, reverted or dropped ones become failed and release
// their reservation.
type Worker struct {
	Config     Config
	Executor   executors.ScheduledExecutor
	CancelFunc context.CancelFunc

	chain   chain.Client
	locker  keylock.Locker
	log     *biz.ExecutionLog
	ledger  *biz.SpendLedger
	metrics *metrics.Recorder
	clock   *biz.Clock
}

func NewWorker(params Params) *Worker {
	return &Worker{
		Config:   params.Config.withDefaults(),
		Executor: params.Executor,
		chain:    params.Chain,
		locker:   params.Locker,
		log:      params.Log,
		ledger:   params.Ledger,
		metrics:  params.Metrics,
		clock:    params.Clock,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	cancelFunc, err := w.Executor.ScheduleFuncAtCronRate(
		func(ctx context.Context) {
			if _, err := w.RunOnce(ctx); err != nil {
				log.Error(ctx, "reconcile run failed", log.Cause(err))
			}
		},
		executors.CRONRule{Expr: w.Config.CRON},
	)
	if err != nil {
		return err
	}

	w.CancelFunc = cancelFunc

	log.Info(ctx, "reconcile worker started",
		log.String("cron", w.Config.CRON),
		log.Duration("min_age", w.Config.MinAge),
		log.Duration("stale_after", w.Config.StaleAfter),
	)

	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	if w.CancelFunc != nil {
		w.CancelFunc()
	}

	return nil
}

// Summary counts what one run did with the records it looked at.
type Summary struct {
	Scanned   int
	Succeeded int
	Failed    int
	Skipped   int
}

// RunOnce reconciles one batch of pending records.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	records, err := w.log.ListPending(ctx, w.clock.Current().Add(-w.Config.MinAge), w.Config.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	var succeeded, failed, skipped atomic.Int64

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(w.Config.Concurrency)

	for _, rec := range records {
		eg.Go(func() error {
			status, err := w.reconcile(gctx, rec)
			if err != nil {
				log.Warn(gctx, "reconcile record failed", log.String("execution_id", rec.ID), log.Cause(err))
			}

			switch status {
			case objects.ExecutionStatusSuccess:
				succeeded.Add(1)
			case objects.ExecutionStatusFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}

			return nil
		})
	}

	_ = eg.Wait()

	summary := Summary{
		Scanned:   len(records),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}

	if summary.Scanned > 0 {
		log.Info(ctx, "reconcile run finished",
			log.Int("scanned", summary.Scanned),
			log.Int("succeeded", summary.Succeeded),
			log.Int("failed", summary.Failed),
			log.Int("skipped", summary.Skipped),
		)
	}

	return summary, nil
}

// reconcile settles rec under its grant's lock and returns the status it moved to, or
// pending when it was left alone.
func (w *Worker) reconcile(ctx context.Context, rec *objects.ExecutionRecord) (objects.ExecutionStatus, error) {
	lctx, cancel := context.WithTimeout(ctx, w.Config.LockTimeout)
	unlock, err := w.locker.Acquire(lctx, biz.GrantLockKey(rec.GrantID))

	cancel()

	if err != nil {
		return objects.ExecutionStatusPending, fmt.Errorf("acquire grant lock: %w", err)
	}
	defer unlock()

	if rec.TxHash == nil || *rec.TxHash == "" {
		if w.stale(rec) {
			return w.fail(ctx, rec, "chain.dropped", "pending execution has no transaction")
		}

		return objects.ExecutionStatusPending, nil
	}

	hash := common.HexToHash(*rec.TxHash)

	receipt, err := w.chain.TransactionReceipt(ctx, hash)

	switch {
	case err == nil && receipt.Status == types.ReceiptStatusSuccessful:
		return w.succeed(ctx, rec)
	case err == nil:
		return w.fail(ctx, rec, "chain.reverted", "transaction reverted on-chain")
	case !errors.Is(err, chain.ErrNotFound):
		return objects.ExecutionStatusPending, err
	}

	if !w.stale(rec) {
		return objects.ExecutionStatusPending, nil
	}

	_, _, err = w.chain.TransactionByHash(ctx, hash)

	switch {
	case errors.Is(err, chain.ErrNotFound):
		return w.fail(ctx, rec, "chain.dropped", "transaction unknown to the node after "+w.Config.StaleAfter.String())
	case err != nil:
		return objects.ExecutionStatusPending, err
	default:
		return objects.ExecutionStatusPending, nil
	}
}

func (w *Worker) stale(rec *objects.ExecutionRecord) bool {
	return w.clock.Current().Sub(rec.ExecutedAt) >= w.Config.StaleAfter
}

func (w *Worker) succeed(ctx context.Context, rec *objects.ExecutionRecord) (objects.ExecutionStatus, error) {
	ok, err := w.log.Resolve(ctx, rec.ID, objects.ExecutionStatusSuccess, "", "")
	if err != nil || !ok {
		return objects.ExecutionStatusPending, err
	}

	w.metrics.PendingResolved(ctx, string(objects.ExecutionStatusSuccess))
	log.Info(ctx, "pending execution confirmed", log.String("execution_id", rec.ID), log.String("tx_hash", *rec.TxHash))

	return objects.ExecutionStatusSuccess, nil
}

// fail marks rec failed and releases its reservation in one transaction.
func (w *Worker) fail(ctx context.Context, rec *objects.ExecutionRecord, code, msg string) (objects.ExecutionStatus, error) {
	resolved := false

	err := w.ledger.RunInTransaction(ctx, func(ctx context.Context) error {
		ok, err := w.log.Resolve(ctx, rec.ID, objects.ExecutionStatusFailed, code, msg)
		if err != nil || !ok {
			return err
		}

		resolved = true

		return w.ledger.Rollback(ctx, biz.Reservation{
			GrantID: rec.GrantID,
			Amount:  rec.ReservedAmount,
			Period:  rec.ReservationPeriod,
		})
	})
	if err != nil || !resolved {
		return objects.ExecutionStatusPending, err
	}

	w.metrics.PendingResolved(ctx, string(objects.ExecutionStatusFailed))
	log.Warn(ctx, "pending execution failed", log.String("execution_id", rec.ID), log.String("code", code))

	return objects.ExecutionStatusFailed, nil
}
