package prime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"custody-wallet-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/balances"
	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Portfolio is a Prime portfolio.
type Portfolio struct {
	Id   string
	Name string
}

// Wallet is a Prime portfolio wallet.
type Wallet struct {
	Id     string
	Name   string
	Symbol string
	Type   string
}

// WalletBalance is a wallet's holdings as strings in human units.
type WalletBalance struct {
	Symbol string
	Amount string
	Holds  string
}

type Service struct {
	client          client.RestClient
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	balancesSvc     balances.BalancesService
	transactionsSvc transactions.TransactionsService
}

func NewService(creds *credentials.Credentials) (*Service, error) {
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		client:          restClient,
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		balancesSvc:     balances.NewBalancesService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
	}, nil
}

// LoadCredentials validates the configured Prime credentials.
func LoadCredentials(cfg models.PrimeConfig) (*credentials.Credentials, error) {
	if cfg.AccessKey == "" || cfg.Passphrase == "" || cfg.SigningKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}
	return &credentials.Credentials{
		AccessKey:  cfg.AccessKey,
		Passphrase: cfg.Passphrase,
		SigningKey: cfg.SigningKey,
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

func (s *Service) ListPortfolios(ctx context.Context) ([]Portfolio, error) {
	response, err := s.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return nil, fmt.Errorf("unable to list portfolios: %w", err)
	}

	portfolioList := make([]Portfolio, len(response.Portfolios))
	for i, p := range response.Portfolios {
		portfolioList[i] = Portfolio{Id: p.Id, Name: p.Name}
	}
	return portfolioList, nil
}

func (s *Service) FindDefaultPortfolio(ctx context.Context) (*Portfolio, error) {
	portfolioList, err := s.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}

	for _, portfolio := range portfolioList {
		if portfolio.Name == "Default Portfolio" {
			return &portfolio, nil
		}
	}

	return nil, fmt.Errorf("default portfolio not found")
}

func (s *Service) ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]Wallet, error) {
	request := &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        walletType,
		Symbols:     symbols,
	}

	response, err := s.walletsSvc.ListWallets(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	walletList := make([]Wallet, len(response.Wallets))
	for i, w := range response.Wallets {
		walletList[i] = Wallet{Id: w.Id, Name: w.Name, Symbol: w.Symbol, Type: w.Type}
	}
	return walletList, nil
}

// CreateWallet requests a new wallet. Prime answers with an activity id;
// the wallet id becomes visible through ListWallets.
func (s *Service) CreateWallet(ctx context.Context, portfolioId, name, symbol, walletType string) (string, error) {
	request := &wallets.CreateWalletRequest{
		PortfolioId:    portfolioId,
		Name:           name,
		Symbol:         symbol,
		Type:           walletType,
		IdempotencyKey: uuid.New().String(),
	}

	response, err := s.walletsSvc.CreateWallet(ctx, request)
	if err != nil {
		return "", fmt.Errorf("unable to create wallet: %w", err)
	}
	return response.ActivityId, nil
}

func (s *Service) CreateDepositAddress(ctx context.Context, portfolioId, walletId, network string) (string, error) {
	request := &wallets.CreateWalletAddressRequest{
		PortfolioId: portfolioId,
		WalletId:    walletId,
		NetworkId:   network,
	}

	response, err := s.walletsSvc.CreateWalletAddress(ctx, request)
	if err != nil {
		return "", fmt.Errorf("unable to create wallet address: %w", err)
	}
	return response.Address, nil
}

func (s *Service) GetWalletBalance(ctx context.Context, portfolioId, walletId string) (*WalletBalance, error) {
	response, err := s.balancesSvc.GetWalletBalance(ctx, &balances.GetWalletBalanceRequest{
		PortfolioId: portfolioId,
		Id:          walletId,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get wallet balance: %w", err)
	}
	if response.Balance == nil {
		return &WalletBalance{}, nil
	}
	return &WalletBalance{
		Symbol: response.Balance.Symbol,
		Amount: response.Balance.Amount,
		Holds:  response.Balance.Holds,
	}, nil
}

// WithdrawalParams contains parameters for an on-chain withdrawal.
type WithdrawalParams struct {
	PortfolioId        string
	WalletId           string
	DestinationAddress string
	Amount             string
	Symbol             string
	NetworkId          string
	NetworkType        string
	IdempotencyKey     string
}

// CreateWithdrawal creates a withdrawal from a wallet and returns the activity id.
func (s *Service) CreateWithdrawal(ctx context.Context, params WithdrawalParams) (string, error) {
	blockchainAddr := &model.BlockchainAddress{Address: params.DestinationAddress}
	if params.NetworkId != "" {
		blockchainAddr.Network = &model.NetworkDetails{Id: params.NetworkId, Type: params.NetworkType}
	}

	request := &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       params.PortfolioId,
		SourceWalletId:    params.WalletId,
		Amount:            params.Amount,
		IdempotencyKey:    params.IdempotencyKey,
		Symbol:            params.Symbol,
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: blockchainAddr,
	}

	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, request)
	if err != nil {
		zap.L().Error("Failed to create withdrawal",
			zap.String("wallet_id", params.WalletId),
			zap.String("amount", params.Amount),
			zap.String("asset", params.Symbol),
			zap.Error(err))
		return "", fmt.Errorf("unable to create withdrawal: %w", err)
	}
	return response.ActivityId, nil
}

// TransferParams contains parameters for a wallet-to-wallet transfer inside the portfolio.
type TransferParams struct {
	PortfolioId         string
	SourceWalletId      string
	DestinationWalletId string
	Amount              string
	Symbol              string
	IdempotencyKey      string
}

// CreateTransfer moves funds between two portfolio wallets and returns the activity id.
func (s *Service) CreateTransfer(ctx context.Context, params TransferParams) (string, error) {
	response, err := s.transactionsSvc.CreateWalletTransfer(ctx, &transactions.CreateWalletTransferRequest{
		PortfolioId:         params.PortfolioId,
		SourceWalletId:      params.SourceWalletId,
		Symbol:              params.Symbol,
		DestinationWalletId: params.DestinationWalletId,
		IdempotencyKey:      params.IdempotencyKey,
		Amount:              params.Amount,
	})
	if err != nil {
		return "", fmt.Errorf("unable to create transfer: %w", err)
	}
	return response.ActivityId, nil
}
