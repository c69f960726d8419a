package biz

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/metrics"
	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/pkg/keylock"
	"github.com/looplj/agentpay/internal/pkg/xcontext"
)

type ExecuteInput struct {
	GrantID             string            `json:"-"`
	StrategyType        string            `json:"strategy_type,omitempty"`
	Venue               string            `json:"venue,omitempty"`
	Tx                  objects.TxRequest `json:"tx"`
	ClientShard         string            `json:"client_shard"`
	ClientShardPassword string            `json:"client_shard_password"`
}

// ExecuteResult is returned whenever a record was written, failures included.
type ExecuteResult struct {
	Record    *objects.ExecutionRecord `json:"record"`
	TxHash    string                   `json:"tx_hash,omitempty"`
	RawTx     string                   `json:"raw_tx,omitempty"`
	Signature string                   `json:"signature,omitempty"`
}

func (r *ExecuteResult) Pending() bool {
	return r != nil && r.Record != nil && r.Record.Status == objects.ExecutionStatusPending
}

type CoordinatorParams struct {
	fx.In

	Config   CoordinatorConfig
	Clock    *Clock
	Locker   keylock.Locker
	Wallets  *WalletBindingService
	Grants   *GrantService
	Policies *StrategyPolicyService
	Ledger   *SpendLedger
	Log      *ExecutionLog
	Signer   *SignerService
	Metrics  *metrics.Recorder `optional:"true"`
}

// Coordinator runs one delegated action end to end: policy, reservation, signing and the
// audit record, all under the grant's lock.
type Coordinator struct {
	config   CoordinatorConfig
	clock    *Clock
	locker   keylock.Locker
	wallets  *WalletBindingService
	grants   *GrantService
	policies *StrategyPolicyService
	ledger   *SpendLedger
	log      *ExecutionLog
	signer   *SignerService
	metrics  *metrics.Recorder
}

func NewCoordinator(params CoordinatorParams) *Coordinator {
	return &Coordinator{
		config:   params.Config.withDefaults(),
		clock:    params.Clock,
		locker:   params.Locker,
		wallets:  params.Wallets,
		grants:   params.Grants,
		policies: params.Policies,
		ledger:   params.Ledger,
		log:      params.Log,
		signer:   params.Signer,
		metrics:  params.Metrics,
	}
}

// GrantLockKey is the lock shared by everything that moves a grant's spend.
func GrantLockKey(grantID string) string {
	return "grant:" + grantID
}

// Execute performs one action on behalf of ownerUserID. Unbound users and unknown grants
// fail without a record; every later outcome writes exactly one record. An attempt on another
// owner's grant is recorded as rejected but its record is not returned to the caller.
// A pending result has a nil error: the transaction may still land and its reservation is kept.
func (c *Coordinator) Execute(ctx context.Context, ownerUserID string, in ExecuteInput) (*ExecuteResult, error) {
	owner, err := c.wallets.ResolveOwnerAddress(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}

	grant, err := c.grants.GetGrant(ctx, in.GrantID)
	if err != nil {
		return nil, err
	}

	rec := c.newRecord(in)

	if grant.OwnerAddress != owner.Hex() {
		log.Warn(ctx, "execute on another owner's grant",
			log.Bool("security_alert", true),
			log.String("grant_id", in.GrantID),
			log.String("user_id", ownerUserID),
		)

		_, err := c.reject(ctx, rec, fmt.Errorf("%w: grant %s belongs to another owner", ErrForbidden, in.GrantID))

		return nil, err
	}

	if err := validateTxRequest(in.Tx); err != nil {
		return c.reject(ctx, rec, err)
	}

	if in.ClientShard == "" {
		return c.reject(ctx, rec, invalid("client_shard", "is required"))
	}

	lctx, cancel := context.WithTimeout(ctx, c.config.LockTimeout)
	unlock, err := c.locker.Acquire(lctx, GrantLockKey(in.GrantID))

	cancel()

	if err != nil {
		log.Warn(ctx, "grant lock not acquired", log.String("grant_id", in.GrantID), log.Cause(err))

		return c.reject(ctx, rec, &ConflictError{Reason: ConflictConcurrentUpdate, Msg: "another execution on this grant is still running"})
	}
	defer unlock()

	// Once the lock is held the attempt runs to its record even if the caller goes away.
	actx, stop := xcontext.DetachWithTimeout(ctx, c.config.AttemptTimeout)
	defer stop()

	return c.executeLocked(actx, ownerUserID, owner, rec, in)
}

func (c *Coordinator) executeLocked(
	ctx context.Context,
	ownerUserID string,
	owner common.Address,
	rec *objects.ExecutionRecord,
	in ExecuteInput,
) (*ExecuteResult, error) {
	grant, err := c.grants.GetGrant(ctx, in.GrantID)
	if err != nil {
		return c.reject(ctx, rec, err)
	}

	if err := c.grants.ensureActive(ctx, grant); err != nil {
		return c.reject(ctx, rec, err)
	}

	if err := c.checkPolicy(ctx, in); err != nil {
		return c.reject(ctx, rec, err)
	}

	var reservation Reservation

	if amount := in.Tx.SpendAmount(); amount.IsPositive() {
		reservation, err = c.ledger.CheckAndReserve(ctx, in.GrantID, amount)
		if err != nil {
			return c.reject(ctx, rec, err)
		}

		rec.ReservedAmount = reservation.Amount
		rec.ReservationPeriod = reservation.Period
	}

	req := SignRequest{
		OwnerUserID:         ownerUserID,
		OwnerAddress:        owner,
		Tx:                  in.Tx,
		ClientShard:         in.ClientShard,
		ClientShardPassword: in.ClientShardPassword,
	}

	signed, err := c.signWithRetry(ctx, req)

	result := &ExecuteResult{Record: rec}
	if signed != nil {
		result.TxHash = signed.TxHash
		result.RawTx = signed.RawTx
		result.Signature = signed.Signature

		if signed.TxHash != "" {
			rec.TxHash = lo.ToPtr(signed.TxHash)
		}
	}

	switch {
	case err == nil:
		rec.Status = objects.ExecutionStatusSuccess

		if err := c.settle(ctx, func(ctx context.Context) error { return c.log.Record(ctx, rec) }); err != nil {
			log.Error(ctx, "execution succeeded but was not recorded",
				log.String("grant_id", in.GrantID),
				log.String("tx_hash", result.TxHash),
				log.Cause(err),
			)

			return result, err
		}
	case mayStillLand(err):
		rec.Status = objects.ExecutionStatusPending
		setError(rec, err)

		if err := c.settle(ctx, func(ctx context.Context) error { return c.log.Record(ctx, rec) }); err != nil {
			return result, err
		}

		log.Warn(ctx, "execution outcome unknown, left pending",
			log.String("grant_id", in.GrantID),
			log.String("tx_hash", result.TxHash),
			log.Cause(err),
		)

		err = nil
	default:
		rec.Status = objects.ExecutionStatusFailed
		setError(rec, err)

		txErr := c.settle(ctx, func(ctx context.Context) error {
			return c.ledger.RunInTransaction(ctx, func(ctx context.Context) error {
				if err := c.ledger.Rollback(ctx, reservation); err != nil {
					return err
				}

				return c.log.Record(ctx, rec)
			})
		})
		if txErr != nil {
			log.Error(ctx, "failed execution could not be settled", log.String("grant_id", in.GrantID), log.Cause(txErr))

			return result, errors.Join(err, txErr)
		}

		log.Warn(ctx, "execution failed", log.String("grant_id", in.GrantID), log.String("code", ErrorCode(err)), log.Cause(err))
	}

	c.metrics.ExecutionFinished(ctx, string(rec.Status), string(rec.ExecutionType))

	return result, err
}

// checkPolicy evaluates the grant's strategy permissions, counting the frequency window
// only when the governing permission caps it.
func (c *Coordinator) checkPolicy(ctx context.Context, in ExecuteInput) error {
	perms, err := c.policies.ListPermissions(ctx, in.GrantID)
	if err != nil {
		return err
	}

	eval := EvaluateInput{
		StrategyType: in.StrategyType,
		Amount:       in.Tx.SpendAmount(),
		Token:        in.Tx.Token,
		Venue:        in.Venue,
	}

	if perm, _ := PermissionFor(perms, in.StrategyType); perm != nil && perm.MaxFrequency != nil {
		since := FrequencyWindowStart(c.clock.now(), perm.FrequencyPeriod, c.clock.loc())

		eval.CurrentWindowCount, err = c.log.CountInWindow(ctx, in.GrantID, in.StrategyType, since)
		if err != nil {
			return err
		}
	}

	return Evaluate(perms, eval).Err()
}

// signWithRetry retries chain failures that happened before anything was broadcast.
func (c *Coordinator) signWithRetry(ctx context.Context, req SignRequest) (*SignResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.RetryInitialInterval

	var last *SignResult

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		res, err := c.signer.SignAndSend(ctx, req)
		if res != nil {
			last = res
		}

		if err == nil {
			return struct{}{}, nil
		}

		var ce *chain.Error
		if errors.As(err, &ce) && !ce.Broadcast && ce.Transient() {
			log.Warn(ctx, "signing hit a chain error before broadcast, retrying", log.Cause(err))

			return struct{}{}, err
		}

		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.config.MaxRetries+1))

	return last, err
}

// mayStillLand reports a failure after which the broadcast transaction could still be mined.
func mayStillLand(err error) bool {
	var ce *chain.Error
	if !errors.As(err, &ce) || !ce.Broadcast {
		return false
	}

	switch ce.Kind {
	case chain.KindTimeout:
		return true
	case chain.KindRPC:
		return !ce.Rejected
	default:
		return false
	}
}

func (c *Coordinator) newRecord(in ExecuteInput) *objects.ExecutionRecord {
	rec := &objects.ExecutionRecord{
		GrantID:        in.GrantID,
		ExecutionType:  in.Tx.ExecutionType(),
		Amount:         in.Tx.SpendAmount(),
		ReservedAmount: decimal.Zero,
		ExecutedAt:     c.clock.now(),
	}

	if in.StrategyType != "" {
		rec.StrategyType = lo.ToPtr(in.StrategyType)
	}

	if in.Tx.Token != "" {
		rec.Token = lo.ToPtr(normalizeAddress(in.Tx.Token))
	}

	if in.Venue != "" {
		rec.Venue = lo.ToPtr(in.Venue)
	}

	if in.Tx.To != "" {
		rec.Metadata = map[string]any{"to": in.Tx.To}
	}

	return rec
}

// reject records a denial that happened before any key material was touched.
func (c *Coordinator) reject(ctx context.Context, rec *objects.ExecutionRecord, cause error) (*ExecuteResult, error) {
	rec.Status = objects.ExecutionStatusRejected
	setError(rec, cause)

	if err := c.settle(ctx, func(ctx context.Context) error { return c.log.Record(ctx, rec) }); err != nil {
		return nil, errors.Join(cause, err)
	}

	code := ErrorCode(cause)

	log.Info(ctx, "execution rejected", log.String("grant_id", rec.GrantID), log.String("code", code))
	c.metrics.Denied(ctx, code)
	c.metrics.ExecutionFinished(ctx, string(rec.Status), string(rec.ExecutionType))

	return &ExecuteResult{Record: rec}, cause
}

// settle runs a terminal write on its own deadline, detached from the attempt's, so an
// attempt that ran out of time still leaves its record and releases its reservation.
func (c *Coordinator) settle(ctx context.Context, write func(ctx context.Context) error) error {
	wctx, cancel := xcontext.DetachWithTimeout(ctx, c.config.SettleTimeout)
	defer cancel()

	return write(wctx)
}

func setError(rec *objects.ExecutionRecord, err error) {
	rec.ErrorCode = lo.ToPtr(ErrorCode(err))
	rec.ErrorMessage = lo.ToPtr(err.Error())
}
