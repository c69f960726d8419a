package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/agentpay/internal/objects"
	"github.com/looplj/agentpay/internal/server/db/dbtest"
)

func TestAbstractService_RunInTransaction(t *testing.T) {
	newSvc := func(t *testing.T) *AbstractService {
		return &AbstractService{db: dbtest.New(t)}
	}

	binding := func(userID string) *objects.WalletBinding {
		return &objects.WalletBinding{UserID: userID, OwnerAddress: "0x1111111111111111111111111111111111111111"}
	}

	count := func(t *testing.T, svc *AbstractService) int64 {
		var n int64
		require.NoError(t, svc.db.Model(&objects.WalletBinding{}).Count(&n).Error)

		return n
	}

	t.Run("commit", func(t *testing.T) {
		svc := newSvc(t)

		err := svc.RunInTransaction(context.Background(), func(txCtx context.Context) error {
			return svc.dbFromContext(txCtx).Create(binding("u1")).Error
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count(t, svc))
	})

	t.Run("rollback on error", func(t *testing.T) {
		svc := newSvc(t)
		expectedErr := errors.New("boom")

		err := svc.RunInTransaction(context.Background(), func(txCtx context.Context) error {
			require.NoError(t, svc.dbFromContext(txCtx).Create(binding("u1")).Error)
			return expectedErr
		})
		assert.ErrorIs(t, err, expectedErr)
		assert.Zero(t, count(t, svc))
	})

	t.Run("nested joins outer transaction", func(t *testing.T) {
		svc := newSvc(t)
		expectedErr := errors.New("outer failed")

		err := svc.RunInTransaction(context.Background(), func(txCtx context.Context) error {
			err := svc.RunInTransaction(txCtx, func(inner context.Context) error {
				return svc.dbFromContext(inner).Create(binding("u1")).Error
			})
			require.NoError(t, err)

			return expectedErr
		})
		assert.ErrorIs(t, err, expectedErr)
		assert.Zero(t, count(t, svc))
	})

	t.Run("rollback on panic", func(t *testing.T) {
		svc := newSvc(t)

		assert.Panics(t, func() {
			_ = svc.RunInTransaction(context.Background(), func(txCtx context.Context) error {
				require.NoError(t, svc.dbFromContext(txCtx).Create(binding("u1")).Error)
				panic("boom")
			})
		})
		assert.Zero(t, count(t, svc))
	})
}
