package formance

import (
	"context"
	"fmt"
	"math/big"

	"custody-wallet-go/internal/assets"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UserBalance returns the mirrored balance of a user's account for asset.
func (s *Service) UserBalance(ctx context.Context, userId string, asset assets.Asset) (decimal.Decimal, error) {
	zap.L().Debug("Getting user balance from Formance",
		zap.String("user_id", userId), zap.String("asset", asset.Symbol))

	vols, err := s.getAccountVolumes(ctx, userAccount(userId))
	if err != nil {
		return decimal.Zero, err
	}
	if bal := volumeBalance(vols, formanceAsset(asset.Symbol, asset.Decimals)); bal != nil {
		return decimal.NewFromBigInt(bal, -asset.Decimals), nil
	}
	return decimal.Zero, nil
}

func (s *Service) getAccountVolumes(ctx context.Context, address string) (map[string]shared.V2Volume, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account volumes for %s: %w", address, err)
	}
	return resp.V2AccountResponse.Data.Volumes, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}
