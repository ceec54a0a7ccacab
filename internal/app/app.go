package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/alerting"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/chain"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/config"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/confirm"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/pricefeed"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/scanner"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/scheduler"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/service"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/storage"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/submitter"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newChain() (*chain.Client, error) {
	return chain.NewClient(chain.Options{
		RPCURL:     a.Config.Network.RPCURL,
		WSURL:      a.Config.Network.WSURL,
		ChainID:    a.Config.Network.ChainID,
		PrivateKey: a.Config.Network.PrivateKey,
		Timeout:    a.Config.Network.RequestTimeout,
	}, a.Logger)
}

func (a *App) newAggregator(ctx context.Context, client *chain.Client) (*pricefeed.Aggregator, error) {
	collateral := common.HexToAddress(a.Config.Protocol.CollateralTokenAddress)
	symbol, err := client.Symbol(ctx, collateral)
	if err != nil {
		return nil, fmt.Errorf("resolve collateral symbol: %w", err)
	}

	var source pricefeed.Source
	if a.Config.PriceFeed.URL != "" {
		source = pricefeed.NewHTTPSource(pricefeed.HTTPSourceOptions{
			URL:     a.Config.PriceFeed.URL,
			Timeout: a.Config.PriceFeed.RequestTimeout,
		}, a.Logger)
	}

	return pricefeed.NewAggregator(pricefeed.Options{
		Vault:            common.HexToAddress(a.Config.Protocol.VaultAddress),
		DebtToken:        common.HexToAddress(a.Config.Protocol.DebtTokenAddress),
		CollateralToken:  collateral,
		CollateralSymbol: symbol,
	}, client, source, a.Logger), nil
}

func (a *App) newScanner(client *chain.Client) *scanner.Scanner {
	return scanner.New(scanner.Options{
		Vault:           common.HexToAddress(a.Config.Protocol.VaultAddress),
		CollateralToken: common.HexToAddress(a.Config.Protocol.CollateralTokenAddress),
		DebtToken:       common.HexToAddress(a.Config.Protocol.DebtTokenAddress),
		PageSize:        a.Config.Agent.MaxPageSize,
	}, client, nil, a.Logger)
}

func (a *App) newSink() *alerting.Sink {
	return alerting.NewSink(alerting.Options{
		WebhookURL: a.Config.Alerting.WebhookURL,
		Timeout:    a.Config.Alerting.RequestTimeout,
		AgentName:  a.Config.Agent.Name,
		DryRun:     a.Config.Agent.DryRun,
	}, a.Logger)
}

// trackedContracts lists every contract whose events the confirmation stream
// must carry: the vault for corrections and the tokens for rebalance
// transfers.
func (a *App) trackedContracts() []common.Address {
	contracts := []common.Address{
		common.HexToAddress(a.Config.Protocol.VaultAddress),
		common.HexToAddress(a.Config.Protocol.DebtTokenAddress),
		common.HexToAddress(a.Config.Protocol.CollateralTokenAddress),
	}
	if a.Config.Protocol.WrappedUnderlyingAddr != "" {
		contracts = append(contracts, common.HexToAddress(a.Config.Protocol.WrappedUnderlyingAddr))
	}
	return contracts
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running agent loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Network.PrivateKey == "" {
		return errors.New("network.private_key is required to run the agent")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client, err := a.newChain()
	if err != nil {
		return err
	}

	aggregator, err := a.newAggregator(ctx, client)
	if err != nil {
		return err
	}

	tracker := confirm.NewTracker(confirm.Options{
		Contracts:  a.trackedContracts(),
		VerifyWait: a.Config.Agent.VerifyWait,
	}, client, a.Logger)

	sub := submitter.New(submitter.Options{
		Vault:            common.HexToAddress(a.Config.Protocol.VaultAddress),
		DebtToken:        common.HexToAddress(a.Config.Protocol.DebtTokenAddress),
		CollateralToken:  common.HexToAddress(a.Config.Protocol.CollateralTokenAddress),
		OnChainPriceOnly: a.Config.Agent.OnChainPriceOnly,
		DryRun:           a.Config.Agent.DryRun,
	}, client, a.Logger)

	var sampleStore storage.IterationSampleStore
	var correctionStore storage.CorrectionStore
	if store != nil {
		sampleStore = store
		correctionStore = store
	}

	svc := service.New(a.Config, client.Address(), client, aggregator, a.newScanner(client), sub, tracker, a.newSink(), sampleStore, correctionStore, a.Logger)

	if err := svc.Init(ctx); err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Cadence:      a.Config.Agent.Cadence,
		StartupDelay: a.Config.Agent.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Str("mode", a.Config.Agent.Mode).Bool("dry_run", a.Config.Agent.DryRun).Msg("starting agent")
	err = sched.Run(ctx, svc.Iterate)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("agent terminated with error")
		return err
	}

	a.Logger.Info().Msg("agent stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit       int
	Corrections bool
}

// ScanOptions configure the one-shot scan command.
type ScanOptions struct {
	MaxPages int
}
