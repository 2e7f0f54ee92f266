// Package fireblocks implements provider.Gateway over the Fireblocks REST API.
package fireblocks

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ provider.Gateway = (*Gateway)(nil)

type Gateway struct {
	client     *Client
	catalog    *assets.Catalog
	feeVaultId string
	hideOnUI   bool
}

func NewGateway(client *Client, catalog *assets.Catalog, cfg models.FireblocksConfig) *Gateway {
	return &Gateway{
		client:     client,
		catalog:    catalog,
		feeVaultId: cfg.FeeVaultId,
		hideOnUI:   cfg.HideVaultsOnUI,
	}
}

func (g *Gateway) Name() string { return models.ProviderFireblocks }

type transferPeer struct {
	Type           string          `json:"type"`
	Id             string          `json:"id,omitempty"`
	OneTimeAddress *oneTimeAddress `json:"oneTimeAddress,omitempty"`
}

type oneTimeAddress struct {
	Address string `json:"address"`
}

type transactionRequest struct {
	AssetId      string        `json:"assetId"`
	Amount       string        `json:"amount"`
	Source       transferPeer  `json:"source"`
	Destination  *transferPeer `json:"destination,omitempty"`
	Note         string        `json:"note,omitempty"`
	ExternalTxId string        `json:"externalTxId,omitempty"`
}

type transactionResponse struct {
	Id         string           `json:"id"`
	Status     string           `json:"status"`
	TxHash     string           `json:"txHash"`
	NetworkFee *decimal.Decimal `json:"networkFee"`
}

type vaultAsset struct {
	Id        string          `json:"id"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
}

type feeLevel struct {
	NetworkFee decimal.Decimal `json:"networkFee"`
}

func vaultPeer(id string) transferPeer {
	return transferPeer{Type: "VAULT_ACCOUNT", Id: id}
}

func (g *Gateway) assetId(op, symbol string) (string, error) {
	id, err := g.catalog.ProviderAssetId(symbol, models.ProviderFireblocks)
	if err != nil {
		return "", provider.NewRejected(op, "unsupported_asset", err.Error())
	}
	return id, nil
}

func vaultPath(vaultId string, parts ...string) string {
	p := "/v1/vault/accounts/" + url.PathEscape(vaultId)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (g *Gateway) CreateVaultAccount(ctx context.Context, label string) (string, error) {
	var resp struct {
		Id string `json:"id"`
	}
	body := map[string]any{"name": label, "hiddenOnUI": g.hideOnUI, "autoFuel": false}
	if err := g.client.do(ctx, "create_vault_account", http.MethodPost, "/v1/vault/accounts", body, "", &resp); err != nil {
		return "", err
	}
	if resp.Id == "" {
		return "", provider.NewUnavailable("create_vault_account", errors.New("response carried no vault id"))
	}
	zap.L().Info("Created Fireblocks vault account", zap.String("vault_id", resp.Id))
	return resp.Id, nil
}

// CreateAssetAddress adds asset to the vault. The vault's asset list is
// checked first so an existing asset is reported as AlreadyExists without
// a create call.
func (g *Gateway) CreateAssetAddress(ctx context.Context, vaultId, asset string) (provider.AddressResult, error) {
	const op = "create_asset_address"
	id, err := g.assetId(op, asset)
	if err != nil {
		return provider.AddressResult{}, err
	}

	var vault struct {
		Assets []vaultAsset `json:"assets"`
	}
	if err := g.client.do(ctx, op, http.MethodGet, vaultPath(vaultId), nil, "", &vault); err != nil {
		return provider.AddressResult{}, err
	}
	for _, a := range vault.Assets {
		if a.Id == id {
			return provider.AddressResult{Outcome: provider.AlreadyExists}, nil
		}
	}

	var resp struct {
		Address string `json:"address"`
	}
	if err := g.client.do(ctx, op, http.MethodPost, vaultPath(vaultId, id), map[string]any{}, "", &resp); err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) && pe.Kind == provider.Rejected && strings.Contains(strings.ToLower(pe.Message), "already") {
			return provider.AddressResult{Outcome: provider.AlreadyExists}, nil
		}
		return provider.AddressResult{}, err
	}
	return provider.AddressResult{Outcome: provider.Created, Address: resp.Address}, nil
}

func (g *Gateway) GenerateAddress(ctx context.Context, vaultId, asset string) (string, error) {
	const op = "generate_address"
	id, err := g.assetId(op, asset)
	if err != nil {
		return "", err
	}
	var resp struct {
		Address string `json:"address"`
	}
	if err := g.client.do(ctx, op, http.MethodPost, vaultPath(vaultId, id, "addresses"), map[string]any{}, "", &resp); err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", provider.NewUnavailable(op, errors.New("response carried no address"))
	}
	return resp.Address, nil
}

func (g *Gateway) GetBalance(ctx context.Context, vaultId, asset string) (models.AssetBalance, error) {
	const op = "get_balance"
	id, err := g.assetId(op, asset)
	if err != nil {
		return models.AssetBalance{}, err
	}
	var resp vaultAsset
	if err := g.client.do(ctx, op, http.MethodGet, vaultPath(vaultId, id), nil, "", &resp); err != nil {
		return models.AssetBalance{}, err
	}
	return models.AssetBalance{Balance: resp.Total, Pending: resp.Pending, Available: resp.Available}, nil
}

func (g *Gateway) createTransaction(ctx context.Context, op string, req transactionRequest, idempotencyKey string) (models.TransferResult, error) {
	var resp transactionResponse
	if err := g.client.do(ctx, op, http.MethodPost, "/v1/transactions", req, idempotencyKey, &resp); err != nil {
		return models.TransferResult{}, err
	}
	if resp.Id == "" {
		return models.TransferResult{}, provider.NewUnavailable(op, errors.New("response carried no transaction id"))
	}
	return models.TransferResult{ProviderTxId: resp.Id, Status: resp.Status, Fee: resp.NetworkFee}, nil
}

func (g *Gateway) CreateExternalTransfer(ctx context.Context, p provider.ExternalTransferParams) (models.TransferResult, error) {
	const op = "external_transfer"
	id, err := g.assetId(op, p.Asset)
	if err != nil {
		return models.TransferResult{}, err
	}
	return g.createTransaction(ctx, op, transactionRequest{
		AssetId: id,
		Amount:  p.Amount.String(),
		Source:  vaultPeer(p.VaultId),
		Destination: &transferPeer{
			Type:           "ONE_TIME_ADDRESS",
			OneTimeAddress: &oneTimeAddress{Address: p.DestinationAddress},
		},
		Note:         p.Note,
		ExternalTxId: p.IdempotencyKey,
	}, p.IdempotencyKey)
}

func (g *Gateway) CreateVaultToVaultTransfer(ctx context.Context, p provider.VaultTransferParams) (models.TransferResult, error) {
	const op = "vault_transfer"
	id, err := g.assetId(op, p.Asset)
	if err != nil {
		return models.TransferResult{}, err
	}
	dest := vaultPeer(p.DestVaultId)
	return g.createTransaction(ctx, op, transactionRequest{
		AssetId:      id,
		Amount:       p.Amount.String(),
		Source:       vaultPeer(p.SourceVaultId),
		Destination:  &dest,
		Note:         p.Note,
		ExternalTxId: p.IdempotencyKey,
	}, p.IdempotencyKey)
}

// EstimateFee quotes a transfer of amount out of the configured fee vault.
func (g *Gateway) EstimateFee(ctx context.Context, asset string, amount decimal.Decimal) (models.FeeTiers, error) {
	const op = "estimate_fee"
	id, err := g.assetId(op, asset)
	if err != nil {
		return models.FeeTiers{}, err
	}
	var resp struct {
		Low    feeLevel `json:"low"`
		Medium feeLevel `json:"medium"`
		High   feeLevel `json:"high"`
	}
	req := transactionRequest{AssetId: id, Amount: amount.String(), Source: vaultPeer(g.feeVaultId)}
	if err := g.client.do(ctx, op, http.MethodPost, "/v1/transactions/estimate_fee", req, "", &resp); err != nil {
		return models.FeeTiers{}, err
	}
	return models.FeeTiers{
		Low:    resp.Low.NetworkFee,
		Medium: resp.Medium.NetworkFee,
		High:   resp.High.NetworkFee,
	}, nil
}

func (g *Gateway) GetTransfer(ctx context.Context, providerTxId string) (models.TransferStatus, error) {
	var resp transactionResponse
	if err := g.client.do(ctx, "get_transfer", http.MethodGet, "/v1/transactions/"+url.PathEscape(providerTxId), nil, "", &resp); err != nil {
		return models.TransferStatus{}, err
	}
	return models.TransferStatus{
		ProviderTxId: resp.Id,
		RawStatus:    resp.Status,
		Status:       MapStatus(resp.Status),
		TxHash:       resp.TxHash,
		Fee:          resp.NetworkFee,
	}, nil
}

// MapStatus maps a Fireblocks transaction status to the ledger status.
// Unknown and in-flight statuses stay pending.
func MapStatus(status string) models.TxStatus {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return models.TxConfirmed
	case "FAILED", "BLOCKED", "REJECTED", "TIMEOUT":
		return models.TxFailed
	case "CANCELLED":
		return models.TxCanceled
	default:
		return models.TxPending
	}
}
