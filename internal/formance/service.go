package formance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"custody-wallet-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Service posts to and reads from a Formance Stack ledger.
type Service struct {
	client *v3.Formance
	ledger string
}

// NewService connects to the stack and creates the ledger if it doesn't
// already exist.
func NewService(ctx context.Context, cfg models.FormanceConfig) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "custody-wallet"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance service initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "custody-wallet",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// PostTransaction posts tx. It reports false without error when a
// transaction with the same reference already exists.
func (s *Service) PostTransaction(ctx context.Context, tx shared.V2PostTransaction) (bool, error) {
	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: tx,
	})
	if err != nil {
		if isConflictError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RevertByProviderRef reverts every unreverted transaction tagged with the
// provider reference. Already reverted transactions are skipped.
func (s *Service) RevertByProviderRef(ctx context.Context, providerRefId string) (int, error) {
	pageSize := int64(10)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$match": map[string]any{
				"metadata[provider_ref_id]": providerRefId,
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find transactions for provider ref %s: %w", providerRefId, err)
	}

	reverted := 0
	for _, tx := range resp.V2TransactionsCursorResponse.Cursor.Data {
		if tx.Reverted {
			continue
		}
		_, err := s.client.Ledger.V2.RevertTransaction(ctx, operations.V2RevertTransactionRequest{
			Ledger:          s.ledger,
			ID:              tx.ID,
			AtEffectiveDate: ptrBool(true),
		})
		if err != nil {
			if isConflictError(err) || isAlreadyRevertedError(err) {
				continue
			}
			return reverted, fmt.Errorf("failed to revert transaction %s: %w", tx.ID.String(), err)
		}
		reverted++
	}
	return reverted, nil
}

// formanceAsset returns the Formance UMN notation, e.g. "USDTERC20/6".
// Underscores are dropped because Formance only allows letters after one.
func formanceAsset(symbol string, decimals int32) string {
	return fmt.Sprintf("%s/%d", strings.ReplaceAll(symbol, "_", ""), decimals)
}

func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

func isAlreadyRevertedError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumAlreadyRevert
}

func strPtr(s string) *string { return &s }
func ptrBool(v bool) *bool    { return &v }
