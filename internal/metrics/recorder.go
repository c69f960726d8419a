package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/looplj/agentpay"

// Recorder holds the service counters.
type Recorder struct {
	executions       metric.Int64Counter
	denials          metric.Int64Counter
	addressMismatch  metric.Int64Counter
	pendingResolved  metric.Int64Counter
	broadcastRetries metric.Int64Counter
}

// NewRecorder registers counters on the global meter provider.
func NewRecorder() (*Recorder, error) {
	return NewRecorderWithMeter(otel.Meter(meterName))
}

func NewRecorderWithMeter(meter metric.Meter) (*Recorder, error) {
	var (
		r   Recorder
		err error
	)

	if r.executions, err = meter.Int64Counter("agentpay.executions",
		metric.WithDescription("Execute attempts by terminal status")); err != nil {
		return nil, err
	}

	if r.denials, err = meter.Int64Counter("agentpay.denials",
		metric.WithDescription("Executions denied before signing, by reason")); err != nil {
		return nil, err
	}

	if r.addressMismatch, err = meter.Int64Counter("agentpay.address_mismatch",
		metric.WithDescription("Reconstructed keys that did not match the owner address")); err != nil {
		return nil, err
	}

	if r.pendingResolved, err = meter.Int64Counter("agentpay.pending_resolved",
		metric.WithDescription("Pending executions resolved by reconciliation")); err != nil {
		return nil, err
	}

	if r.broadcastRetries, err = meter.Int64Counter("agentpay.broadcast_retries",
		metric.WithDescription("Rebroadcast attempts of an already signed transaction")); err != nil {
		return nil, err
	}

	return &r, nil
}

func (r *Recorder) ExecutionFinished(ctx context.Context, status, executionType string) {
	if r == nil {
		return
	}

	r.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("execution_type", executionType),
	))
}

func (r *Recorder) Denied(ctx context.Context, code string) {
	if r == nil {
		return
	}

	r.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (r *Recorder) AddressMismatch(ctx context.Context) {
	if r == nil {
		return
	}

	r.addressMismatch.Add(ctx, 1)
}

func (r *Recorder) PendingResolved(ctx context.Context, status string) {
	if r == nil {
		return
	}

	r.pendingResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (r *Recorder) BroadcastRetry(ctx context.Context) {
	if r == nil {
		return
	}

	r.broadcastRetries.Add(ctx, 1)
}
