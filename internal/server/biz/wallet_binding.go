package biz

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/looplj/agentpay/internal/objects"
)

type WalletBindingServiceParams struct {
	fx.In

	DB *gorm.DB
}

// WalletBindingService resolves an authenticated user to the wallet address they own.
// Bindings are written by the account service; Bind exists for provisioning and tests.
type WalletBindingService struct {
	*AbstractService
}

func NewWalletBindingService(params WalletBindingServiceParams) *WalletBindingService {
	return &WalletBindingService{
		AbstractService: &AbstractService{db: params.DB},
	}
}

func (s *WalletBindingService) ResolveOwnerAddress(ctx context.Context, userID string) (common.Address, error) {
	var binding objects.WalletBinding

	err := s.dbFromContext(ctx).Where("user_id = ?", userID).Take(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return common.Address{}, fmt.Errorf("%w: no wallet bound to user %s", ErrNotFound, userID)
	}

	if err != nil {
		return common.Address{}, fmt.Errorf("load wallet binding: %w", err)
	}

	return common.HexToAddress(binding.OwnerAddress), nil
}

func (s *WalletBindingService) Bind(ctx context.Context, userID, address string) (*objects.WalletBinding, error) {
	if userID == "" {
		return nil, invalid("user_id", "is required")
	}

	if !common.IsHexAddress(address) {
		return nil, invalid("owner_address", "%q is not a hex address", address)
	}

	binding := &objects.WalletBinding{
		UserID:       userID,
		OwnerAddress: common.HexToAddress(address).Hex(),
	}

	err := s.dbFromContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_address", "updated_at"}),
	}).Create(binding).Error
	if err != nil {
		return nil, fmt.Errorf("bind wallet: %w", err)
	}

	return binding, nil
}
