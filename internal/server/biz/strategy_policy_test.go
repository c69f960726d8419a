package biz

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/agentpay/internal/objects"
)

const usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

func TestEvaluate(t *testing.T) {
	swap := &objects.StrategyPermission{
		StrategyType:    "swap",
		Allowed:         true,
		MaxAmount:       decimal.NewNullDecimal(decimal.NewFromInt(50)),
		MaxFrequency:    lo.ToPtr(3),
		FrequencyPeriod: objects.FrequencyPeriodHour,
		AllowedTokens:   []string{usdc},
		AllowedVenues:   []string{"uniswap"},
	}
	lend := &objects.StrategyPermission{StrategyType: "lend", Allowed: false}
	stake := &objects.StrategyPermission{StrategyType: "stake", Allowed: true}

	perms := []*objects.StrategyPermission{swap, lend, stake}

	ok := EvaluateInput{StrategyType: "swap", Amount: decimal.NewFromInt(10), Token: usdc, Venue: "uniswap"}

	tests := []struct {
		name  string
		perms []*objects.StrategyPermission
		in    EvaluateInput
		want  Decision
	}{
		{name: "no rows allows anything", perms: nil, in: EvaluateInput{StrategyType: "anything", Amount: decimal.NewFromInt(1e6)}, want: allow()},
		{name: "within every rule", perms: perms, in: ok, want: allow()},
		{name: "unlisted strategy", perms: perms, in: EvaluateInput{StrategyType: "bridge"}, want: deny(DenyStrategyNotAllowed)},
		{name: "missing strategy type", perms: perms, in: EvaluateInput{}, want: deny(DenyStrategyNotAllowed)},
		{name: "disallowed strategy", perms: perms, in: EvaluateInput{StrategyType: "lend"}, want: deny(DenyStrategyNotAllowed)},
		{name: "unrestricted row", perms: perms, in: EvaluateInput{StrategyType: "stake", Amount: decimal.NewFromInt(1e6), Token: "0x1111111111111111111111111111111111111111"}, want: allow()},
		{
			name:  "cap is inclusive",
			perms: perms,
			in:    EvaluateInput{StrategyType: "swap", Amount: decimal.NewFromInt(50), Token: usdc, Venue: "uniswap"},
			want:  allow(),
		},
		{
			name:  "over cap",
			perms: perms,
			in:    EvaluateInput{StrategyType: "swap", Amount: decimal.RequireFromString("50.01"), Token: usdc, Venue: "uniswap"},
			want:  deny(DenyAmountExceedsStrategyCap),
		},
		{
			name:  "token compared case-insensitively",
			perms: perms,
			in:    EvaluateInput{StrategyType: "swap", Amount: decimal.NewFromInt(1), Token: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Venue: "uniswap"},
			want:  allow(),
		},
		{
			name:  "native asset not in token list",
			perms: perms,
			in:    EvaluateInput{StrategyType: "swap", Amount: decimal.NewFromInt(1), Venue: "uniswap"},
			want:  deny(DenyTokenNotAllowed),
		},
		{
			name:  "other venue",
			perms: perms,
			in:    EvaluateInput{StrategyType: "swap", Amount: decimal.NewFromInt(1), Token: usdc, Venue: "curve"},
			want:  deny(DenyVenueNotAllowed),
		},
		{
			name:  "frequency below cap",
			perms: perms,
			in:    EvaluateInput{StrategyType: "swap", Amount: decimal.NewFromInt(1), Token: usdc, Venue: "uniswap", CurrentWindowCount: 2},
			want:  allow(),
		},
		{
			name:  "frequency at cap",
			perms: perms,
			in:    EvaluateInput{StrategyType: "swap", Amount: decimal.NewFromInt(1), Token: usdc, Venue: "uniswap", CurrentWindowCount: 3},
			want:  deny(DenyFrequencyExceeded),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.perms, tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Evaluate() mismatch (-want +got):\n%s", diff)
			}

			if !got.Allowed {
				require.ErrorIs(t, got.Err(), &PolicyDeniedError{Reason: tt.want.Reason})
				require.ErrorIs(t, got.Err(), ErrPolicyDenied)
			} else {
				require.NoError(t, got.Err())
			}
		})
	}
}

func TestFrequencyWindowStart(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 37, 12, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC), FrequencyWindowStart(now, objects.FrequencyPeriodHour, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), FrequencyWindowStart(now, objects.FrequencyPeriodDay, time.UTC))

	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 14:37 UTC is 20:07 in Kolkata; the local hour starts at 14:30 UTC.
	assert.Equal(t, time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC), FrequencyWindowStart(now, objects.FrequencyPeriodHour, kolkata))
	assert.Equal(t, time.Date(2025, 3, 9, 18, 30, 0, 0, time.UTC), FrequencyWindowStart(now, objects.FrequencyPeriodDay, kolkata))
}

func TestStrategyPolicyService_UpsertPermission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1")
	g := env.grant(t, w, "100", "150")

	in := UpsertPermissionInput{
		GrantID:       g.ID,
		StrategyType:  "swap",
		Allowed:       true,
		MaxAmount:     decimal.NewNullDecimal(decimal.NewFromInt(25)),
		MaxFrequency:  lo.ToPtr(5),
		AllowedTokens: []string{"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
		AllowedVenues: []string{"uniswap", "uniswap"},
	}

	first, err := env.Policies.UpsertPermission(ctx, w.Address.Hex(), in)
	require.NoError(t, err)
	assert.Equal(t, objects.FrequencyPeriodDay, first.FrequencyPeriod)
	assert.Equal(t, []string{usdc}, first.AllowedTokens)
	assert.Equal(t, []string{"uniswap"}, first.AllowedVenues)

	second, err := env.Policies.UpsertPermission(ctx, w.Address.Hex(), in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	perms, err := env.Policies.ListPermissions(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.True(t, perms[0].MaxAmount.Decimal.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 5, *perms[0].MaxFrequency)

	in.Allowed = false
	in.MaxAmount = decimal.NullDecimal{}
	in.FrequencyPeriod = objects.FrequencyPeriodHour

	updated, err := env.Policies.UpsertPermission(ctx, w.Address.Hex(), in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, updated.ID)
	assert.False(t, updated.Allowed)
	assert.False(t, updated.MaxAmount.Valid)
	assert.Equal(t, objects.FrequencyPeriodHour, updated.FrequencyPeriod)

	perms, err = env.Policies.ListPermissions(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, perms, 1)
}

func TestStrategyPolicyService_UpsertPermission_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.wallet(t, "u1")
	other := env.wallet(t, "u2")
	g := env.grant(t, w, "100", "150")

	_, err := env.Policies.UpsertPermission(ctx, other.Address.Hex(), UpsertPermissionInput{GrantID: g.ID, StrategyType: "swap"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.Policies.UpsertPermission(ctx, w.Address.Hex(), UpsertPermissionInput{GrantID: "0xnope", StrategyType: "swap"})
	require.ErrorIs(t, err, ErrNotFound)

	invalidInputs := []UpsertPermissionInput{
		{GrantID: g.ID},
		{GrantID: g.ID, StrategyType: "swap", FrequencyPeriod: "week"},
		{GrantID: g.ID, StrategyType: "swap", MaxAmount: decimal.NewNullDecimal(decimal.Zero)},
		{GrantID: g.ID, StrategyType: "swap", MaxFrequency: lo.ToPtr(-1)},
		{GrantID: g.ID, StrategyType: "swap", AllowedTokens: []string{"usdc"}},
	}

	for _, in := range invalidInputs {
		_, err := env.Policies.UpsertPermission(ctx, w.Address.Hex(), in)
		require.ErrorIs(t, err, ErrValidation)
	}
}
