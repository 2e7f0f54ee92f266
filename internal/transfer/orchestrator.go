// Package transfer executes internal, donation and external transfers
// through the custody provider and records them in the ledger.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"custody-wallet-go/internal/assets"
	"custody-wallet-go/internal/models"
	"custody-wallet-go/internal/provider"
	"custody-wallet-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Users resolves transfer recipients.
type Users interface {
	GetUserByPrivacyId(ctx context.Context, privacyId string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Wallets resolves and provisions wallets.
type Wallets interface {
	GetOwnedWallet(ctx context.Context, userId, walletId string) (*models.Wallet, error)
	EnsureWallet(ctx context.Context, userId, asset string) (*models.Wallet, error)
	FindByAddress(ctx context.Context, asset, address string) (*models.Wallet, error)
}

// Ledger records transfer legs.
type Ledger interface {
	RecordPair(ctx context.Context, out, in *models.Transaction) ([]models.Transaction, error)
	RecordSingle(ctx context.Context, tx *models.Transaction) ([]models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) ([]models.Transaction, error)
	QueueReconciliation(ctx context.Context, legs []*models.Transaction, cause error) (*models.ReconciliationItem, error)
}

type Options struct {
	DonationPrivacyId string
	// Alerter is optional.
	Alerter Alerter
}

type Orchestrator struct {
	users   Users
	wallets Wallets
	ledger  Ledger
	gateway provider.Gateway
	catalog *assets.Catalog
	opts    Options
}

func NewOrchestrator(users Users, wallets Wallets, ledger Ledger, gateway provider.Gateway, catalog *assets.Catalog, opts Options) *Orchestrator {
	return &Orchestrator{
		users:   users,
		wallets: wallets,
		ledger:  ledger,
		gateway: gateway,
		catalog: catalog,
		opts:    opts,
	}
}

// plan is a request after validation and wallet resolution.
type plan struct {
	route      Route
	asset      assets.Asset
	amount     decimal.Decimal
	key        string
	note       string
	source     *models.Wallet
	dest       *models.Wallet // nil for true external transfers
	destAddr   string
	log        *zap.Logger
	sourcePre  decimal.NullDecimal
	destPre    decimal.NullDecimal
	providerTx models.TransferResult
}

func (o *Orchestrator) Internal(ctx context.Context, req InternalRequest) (*Result, error) {
	p, replay, err := o.begin(ctx, RouteInternal, req.UserId, req.WalletId, req.Asset, req.Amount, req.IdempotencyKey, req.Note)
	if err != nil || replay != nil {
		return replay, err
	}

	recipient, err := o.resolveRecipient(ctx, req.Recipient)
	if err != nil {
		return nil, p.fail(err)
	}
	if !recipient.EmailVerified {
		return nil, p.fail(fmt.Errorf("%w: %s", models.ErrDestinationNotVerified, req.Recipient))
	}
	if err := o.resolveDestination(ctx, p, recipient.Id); err != nil {
		return nil, err
	}
	return o.execute(ctx, p)
}

// Donate sends to the configured donation account. The recipient is
// platform-controlled, so its verification flag is not checked.
func (o *Orchestrator) Donate(ctx context.Context, req DonationRequest) (*Result, error) {
	p, replay, err := o.begin(ctx, RouteDonation, req.UserId, req.WalletId, req.Asset, req.Amount, req.IdempotencyKey, req.Note)
	if err != nil || replay != nil {
		return replay, err
	}

	if o.opts.DonationPrivacyId == "" {
		return nil, p.fail(fmt.Errorf("%w: no donation account configured", models.ErrDestinationNotFound))
	}
	recipient, err := o.users.GetUserByPrivacyId(ctx, o.opts.DonationPrivacyId)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, p.fail(fmt.Errorf("%w: donation account", models.ErrDestinationNotFound))
		}
		return nil, p.fail(err)
	}
	if err := o.resolveDestination(ctx, p, recipient.Id); err != nil {
		return nil, err
	}
	return o.execute(ctx, p)
}

// External sends to an address. An address held by an internal wallet of
// the same asset is executed as a vault-to-vault transfer and recorded as
// an internal pair.
func (o *Orchestrator) External(ctx context.Context, req ExternalRequest) (*Result, error) {
	p, replay, err := o.begin(ctx, RouteExternal, req.UserId, req.WalletId, req.Asset, req.Amount, req.IdempotencyKey, req.Note)
	if err != nil || replay != nil {
		return replay, err
	}

	destination := strings.TrimSpace(req.Destination)
	ok, err := o.catalog.ValidateDestination(p.asset.Symbol, destination)
	if err != nil {
		return nil, p.fail(err)
	}
	if !ok {
		return nil, p.fail(fmt.Errorf("%w: %q", models.ErrInvalidAddress, req.Destination))
	}
	p.destAddr = destination

	match, err := o.wallets.FindByAddress(ctx, p.asset.Symbol, destination)
	switch {
	case err == nil:
		if match.UserId == p.source.UserId {
			return nil, p.fail(fmt.Errorf("%w: destination is the source wallet", models.ErrSelfTransfer))
		}
		p.route = RouteAddressMatch
		p.dest = match
		p.destAddr = match.Address
		p.log = p.log.With(zap.String("route", string(p.route)), zap.String("dest_wallet_id", match.Id))
		p.log.Info("Destination address belongs to an internal wallet, rerouting")
	case errors.Is(err, store.ErrWalletNotFound):
	default:
		return nil, p.fail(err)
	}

	p.log.Info("Transfer state", zap.String("state", "wallets_resolved"))
	return o.execute(ctx, p)
}

// begin validates the request, resolves the source wallet and answers
// replays of an already recorded idempotency key.
func (o *Orchestrator) begin(ctx context.Context, route Route, userId, walletId, asset string, amount decimal.Decimal, key, note string) (*plan, *Result, error) {
	log := zap.L().With(
		zap.String("route", string(route)),
		zap.String("user_id", userId),
		zap.String("wallet_id", walletId),
		zap.String("asset", asset),
		zap.String("amount", amount.String()))

	fail := func(err error) error {
		log.Warn("Transfer state", zap.String("state", "failed"), zap.Error(err))
		return err
	}

	if !amount.IsPositive() {
		return nil, nil, fail(fmt.Errorf("%w: %s", models.ErrInvalidAmount, amount))
	}
	a, err := o.catalog.Describe(asset)
	if err != nil {
		return nil, nil, fail(err)
	}
	if _, err := o.catalog.ToBaseUnits(a.Symbol, amount); err != nil {
		return nil, nil, fail(err)
	}

	source, err := o.wallets.GetOwnedWallet(ctx, userId, walletId)
	if err != nil {
		return nil, nil, fail(err)
	}
	if source.Currency != a.Symbol {
		return nil, nil, fail(fmt.Errorf("%w: wallet holds %s, request is %s", models.ErrAssetMismatch, source.Currency, a.Symbol))
	}

	if key != "" {
		rows, err := o.ledger.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, nil, fail(err)
		}
		if len(rows) > 0 {
			if !ownsReplay(rows, userId, walletId) {
				return nil, nil, fail(fmt.Errorf("%w: %s", ErrIdempotencyKeyReused, key))
			}
			log.Info("Idempotency key already recorded, returning stored result",
				zap.String("idempotency_key", key),
				zap.String("provider_ref_id", models.Deref(rows[0].ProviderRefId)))
			return nil, resultFromRows(key, rows), nil
		}
	} else {
		key = NewIdempotencyKey()
	}

	log = log.With(zap.String("idempotency_key", key))
	log.Info("Transfer state", zap.String("state", "validated"))

	return &plan{
		route:  route,
		asset:  a,
		amount: amount,
		key:    key,
		note:   note,
		source: source,
		log:    log,
	}, nil, nil
}

func ownsReplay(rows []models.Transaction, userId, walletId string) bool {
	for _, r := range rows {
		if r.UserId == userId && models.Deref(r.WalletId) == walletId && (r.Type == models.TxInternalOut || r.Type == models.TxCryptoOut) {
			return true
		}
	}
	return false
}

func (p *plan) fail(err error) error {
	p.log.Warn("Transfer state", zap.String("state", "failed"), zap.Error(err))
	return err
}

// resolveRecipient looks the recipient up by privacy id, then username.
func (o *Orchestrator) resolveRecipient(ctx context.Context, recipient string) (*models.User, error) {
	if recipient == "" {
		return nil, fmt.Errorf("%w: empty recipient", models.ErrDestinationNotFound)
	}
	user, err := o.users.GetUserByPrivacyId(ctx, recipient)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}
	user, err = o.users.GetUserByUsername(ctx, recipient)
	if err == nil {
		return user, nil
	}
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrDestinationNotFound, recipient)
	}
	return nil, err
}

func (o *Orchestrator) resolveDestination(ctx context.Context, p *plan, recipientId string) error {
	if recipientId == p.source.UserId {
		return p.fail(fmt.Errorf("%w: %s", models.ErrSelfTransfer, recipientId))
	}
	dest, err := o.wallets.EnsureWallet(ctx, recipientId, p.asset.Symbol)
	if err != nil {
		return p.fail(fmt.Errorf("unable to provision destination wallet: %w", err))
	}
	p.dest = dest
	p.destAddr = dest.Address
	p.log = p.log.With(zap.String("dest_wallet_id", dest.Id))
	p.log.Info("Transfer state", zap.String("state", "wallets_resolved"))
	return nil
}

// readBalance returns the provider balance, or an invalid value when the
// read fails. Balance-after values are projections, so a failed read only
// leaves them empty.
func (o *Orchestrator) readBalance(ctx context.Context, p *plan, w *models.Wallet) decimal.NullDecimal {
	bal, err := o.gateway.GetBalance(ctx, w.VaultId, w.Currency)
	if err != nil {
		p.log.Warn("Unable to read pre-transfer balance",
			zap.String("vault_id", w.VaultId),
			zap.Error(err))
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(bal.Balance)
}

func (o *Orchestrator) execute(ctx context.Context, p *plan) (*Result, error) {
	p.sourcePre = o.readBalance(ctx, p, p.source)
	if p.dest != nil {
		p.destPre = o.readBalance(ctx, p, p.dest)
	}

	var err error
	if p.dest != nil {
		p.providerTx, err = o.gateway.CreateVaultToVaultTransfer(ctx, provider.VaultTransferParams{
			SourceVaultId:  p.source.VaultId,
			DestVaultId:    p.dest.VaultId,
			Asset:          p.asset.Symbol,
			Amount:         p.amount,
			IdempotencyKey: p.key,
			Note:           p.note,
		})
	} else {
		p.providerTx, err = o.gateway.CreateExternalTransfer(ctx, provider.ExternalTransferParams{
			VaultId:            p.source.VaultId,
			Asset:              p.asset.Symbol,
			Amount:             p.amount,
			DestinationAddress: p.destAddr,
			IdempotencyKey:     p.key,
			Note:               p.note,
		})
	}
	if err != nil {
		return nil, p.fail(&ProviderFailure{IdempotencyKey: p.key, Err: err})
	}

	p.log = p.log.With(zap.String("provider_ref_id", p.providerTx.ProviderTxId))
	p.log.Info("Transfer state",
		zap.String("state", "provider_called"),
		zap.String("provider_status", p.providerTx.Status))

	groupId := ""
	var legs []*models.Transaction
	if p.dest != nil {
		groupId = uuid.New().String()
		out, in := o.buildPair(p, groupId)
		legs = []*models.Transaction{out, in}
	} else {
		legs = []*models.Transaction{o.buildExternal(p)}
	}

	var rows []models.Transaction
	if len(legs) == 2 {
		rows, err = o.ledger.RecordPair(ctx, legs[0], legs[1])
	} else {
		rows, err = o.ledger.RecordSingle(ctx, legs[0])
	}
	if err != nil {
		return nil, o.reconciliationRequired(ctx, p, legs, err)
	}
	p.log.Info("Transfer state", zap.String("state", "ledger_written"))

	res := &Result{
		ProviderTxId:   p.providerTx.ProviderTxId,
		ProviderStatus: p.providerTx.Status,
		GroupId:        groupId,
		IdempotencyKey: p.key,
		Route:          p.route,
		Transactions:   rows,
	}
	p.log.Info("Transfer state", zap.String("state", "done"))
	return res, nil
}

func (o *Orchestrator) baseLeg(p *plan) *models.Transaction {
	return &models.Transaction{
		Provider:       o.gateway.Name(),
		Status:         models.TxPending,
		Amount:         p.amount,
		Currency:       p.asset.Symbol,
		Description:    models.Str(p.note),
		IdempotencyKey: models.Str(p.key),
		ProviderRefId:  models.Str(p.providerTx.ProviderTxId),
		Chain:          models.Str(p.asset.Network),
		Meta: map[string]any{
			metaRoute:          string(p.route),
			metaProviderStatus: p.providerTx.Status,
		},
	}
}

func (o *Orchestrator) buildPair(p *plan, groupId string) (*models.Transaction, *models.Transaction) {
	fee := p.providerTx.FeeOrZero()

	out := o.baseLeg(p)
	out.UserId = p.source.UserId
	out.WalletId = models.Str(p.source.Id)
	out.Type = models.TxInternalOut
	out.GroupId = models.Str(groupId)
	out.CounterpartyUser = models.Str(p.dest.UserId)
	out.AddressFrom = models.Str(p.source.Address)
	out.AddressTo = models.Str(p.dest.Address)
	if p.providerTx.Fee != nil {
		out.FeeAmount = decimal.NewNullDecimal(fee)
		out.FeeCurrency = models.Str(p.asset.FeeUnits())
	}
	if p.sourcePre.Valid {
		out.BalanceAfter = decimal.NewNullDecimal(p.sourcePre.Decimal.Sub(p.amount).Sub(o.feeInAsset(p, fee)))
	}

	in := o.baseLeg(p)
	in.UserId = p.dest.UserId
	in.WalletId = models.Str(p.dest.Id)
	in.Type = models.TxInternalIn
	in.GroupId = models.Str(groupId)
	in.CounterpartyUser = models.Str(p.source.UserId)
	in.AddressFrom = models.Str(p.source.Address)
	in.AddressTo = models.Str(p.dest.Address)
	if p.destPre.Valid {
		in.BalanceAfter = decimal.NewNullDecimal(p.destPre.Decimal.Add(p.amount))
	}
	return out, in
}

func (o *Orchestrator) buildExternal(p *plan) *models.Transaction {
	fee := p.providerTx.FeeOrZero()

	tx := o.baseLeg(p)
	tx.UserId = p.source.UserId
	tx.WalletId = models.Str(p.source.Id)
	tx.Type = models.TxCryptoOut
	tx.AddressFrom = models.Str(p.source.Address)
	tx.AddressTo = models.Str(p.destAddr)
	tx.FeeAmount = decimal.NewNullDecimal(fee)
	tx.FeeCurrency = models.Str(p.asset.FeeUnits())
	if p.sourcePre.Valid {
		tx.BalanceAfter = decimal.NewNullDecimal(p.sourcePre.Decimal.Sub(p.amount).Sub(o.feeInAsset(p, fee)))
	}
	return tx
}

// feeInAsset is the part of the fee charged to the transferred asset's
// balance. Token fees are paid in the fee asset and leave it untouched.
func (o *Orchestrator) feeInAsset(p *plan, fee decimal.Decimal) decimal.Decimal {
	if p.asset.FeeUnits() != p.asset.Symbol {
		return decimal.Zero
	}
	return fee
}

// reconciliationRequired handles a ledger failure after the provider
// accepted the transfer: money moved upstream with no local record.
func (o *Orchestrator) reconciliationRequired(ctx context.Context, p *plan, legs []*models.Transaction, cause error) error {
	p.log.Error("reconciliation required",
		zap.String("state", "failed"),
		zap.String("group_id", models.Deref(legs[0].GroupId)),
		zap.String("provider_status", p.providerTx.Status),
		zap.String("source_vault_id", p.source.VaultId),
		zap.String("destination", p.destAddr),
		zap.Error(cause))

	item, err := o.ledger.QueueReconciliation(ctx, legs, cause)
	if err != nil {
		p.log.Error("Failed to queue reconciliation item", zap.Error(err))
	} else if o.opts.Alerter != nil {
		if err := o.opts.Alerter.ReconciliationRequired(context.WithoutCancel(ctx), *item); err != nil {
			p.log.Warn("Failed to publish reconciliation alert", zap.Error(err))
		}
	}

	return fmt.Errorf("%w: provider transfer %s: %w", models.ErrReconciliationRequired, p.providerTx.ProviderTxId, cause)
}
