package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/alerting"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/chain"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/config"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/confirm"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/pricefeed"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/risk"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/storage"
)

// Ledger is the slice of the chain client the service reads through.
type Ledger interface {
	Symbol(ctx context.Context, token common.Address) (string, error)
	Decimals(ctx context.Context, token common.Address) (int64, error)
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	MaxLoanToValue(ctx context.Context, vault, collateral common.Address) (int64, error)
	LiquidationLimit(ctx context.Context, vault, collateral common.Address) (int64, error)
	MaintenanceLimit(ctx context.Context, vault, collateral common.Address) (int64, error)
	MaintenanceBonus(ctx context.Context, vault, collateral common.Address) (int64, error)
}

// Quoter aggregates the pair's prices for one iteration.
type Quoter interface {
	Quote(ctx context.Context, onChainOnly bool) (pricefeed.Quote, error)
}

// PageScanner reads one shuffled page of open positions.
type PageScanner interface {
	Page(ctx context.Context, pageNum int) ([]chain.Position, error)
}

// ActionSubmitter fee-checks and broadcasts correction and rebalance calls.
type ActionSubmitter interface {
	Submit(ctx context.Context, intent risk.Intent) (*common.Hash, error)
	Send(ctx context.Context, call chain.Call) (*common.Hash, error)
}

// ConfirmationTracker registers interest in expected ledger events.
type ConfirmationTracker interface {
	Start(ctx context.Context) error
	Expect(match func(types.Log) bool) *confirm.Pending
}

// Service orchestrates scanning, risk evaluation, submission, confirmation,
// and alerting for one (collateral, debt) pair.
type Service struct {
	ledger      Ledger
	quoter      Quoter
	scanner     PageScanner
	submitter   ActionSubmitter
	tracker     ConfirmationTracker
	sink        *alerting.Sink
	samples     storage.IterationSampleStore
	corrections storage.CorrectionStore
	logger      zerolog.Logger

	mode             string
	kind             risk.Kind
	onChainPriceOnly bool
	autoSwap         bool

	vault      common.Address
	collateral common.Address
	debt       common.Address
	wrapped    common.Address
	underlying common.Address
	router     common.Address
	actor      common.Address

	lowBalanceThreshold  decimal.Decimal
	maintenanceThreshold decimal.Decimal
	swapThreshold        *big.Int

	locker  storage.AdvisoryLocker
	lockKey int64

	// Resolved once during Init.
	params           risk.Params
	collateralSymbol string
	debtSymbol       string
	underlyingSymbol string
}

// New constructs the agent service.
func New(cfg *config.Config, actor common.Address, ledger Ledger, quoter Quoter, scanner PageScanner, submitter ActionSubmitter, tracker ConfirmationTracker, sink *alerting.Sink, samples storage.IterationSampleStore, corrections storage.CorrectionStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := samples.(storage.AdvisoryLocker); ok {
		locker = l
	}

	s := &Service{
		ledger:      ledger,
		quoter:      quoter,
		scanner:     scanner,
		submitter:   submitter,
		tracker:     tracker,
		sink:        sink,
		samples:     samples,
		corrections: corrections,
		logger:      logger.With().Str("component", "service").Logger(),

		mode:             cfg.Agent.Mode,
		kind:             risk.IntentKind(cfg.Agent.Mode),
		onChainPriceOnly: cfg.Agent.OnChainPriceOnly,
		autoSwap:         cfg.Agent.AutoSwap,

		vault:      common.HexToAddress(cfg.Protocol.VaultAddress),
		collateral: common.HexToAddress(cfg.Protocol.CollateralTokenAddress),
		debt:       common.HexToAddress(cfg.Protocol.DebtTokenAddress),
		router:     common.HexToAddress(cfg.Protocol.RouterAddress),
		actor:      actor,

		lowBalanceThreshold:  decimal.NewFromFloat(cfg.Agent.LowBalanceThreshold),
		maintenanceThreshold: decimal.NewFromFloat(cfg.Agent.MaintenanceThreshold),
		swapThreshold:        big.NewInt(cfg.Agent.SwapThreshold),

		locker:  locker,
		lockKey: cfg.Database.AdvisoryLockKey,
	}

	if cfg.Protocol.WrappedTokenAddress != "" {
		s.wrapped = common.HexToAddress(cfg.Protocol.WrappedTokenAddress)
		s.underlying = common.HexToAddress(cfg.Protocol.WrappedUnderlyingAddr)
	}

	return s
}

// Init resolves the protocol context the loop runs against: token symbols
// and multipliers, the LTV ceiling, and the mode's quantity limits. It also
// brings up the confirmation stream; the service must not start iterating
// before the stream is live, or a fast correction could confirm unobserved.
func (s *Service) Init(ctx context.Context) error {
	var err error
	if s.collateralSymbol, err = s.ledger.Symbol(ctx, s.collateral); err != nil {
		return fmt.Errorf("resolve collateral symbol: %w", err)
	}
	if s.debtSymbol, err = s.ledger.Symbol(ctx, s.debt); err != nil {
		return fmt.Errorf("resolve debt symbol: %w", err)
	}
	if s.wrapped != (common.Address{}) {
		if s.underlyingSymbol, err = s.ledger.Symbol(ctx, s.underlying); err != nil {
			return fmt.Errorf("resolve underlying symbol: %w", err)
		}
	}

	collateralDecimals, err := s.ledger.Decimals(ctx, s.collateral)
	if err != nil {
		return fmt.Errorf("resolve collateral decimals: %w", err)
	}
	debtDecimals, err := s.ledger.Decimals(ctx, s.debt)
	if err != nil {
		return fmt.Errorf("resolve debt decimals: %w", err)
	}

	maxLTV, err := s.ledger.MaxLoanToValue(ctx, s.vault, s.collateral)
	if err != nil {
		return fmt.Errorf("resolve max loan to value: %w", err)
	}

	s.params = risk.Params{
		DebtMultiplier:       decimal.New(1, int32(debtDecimals)),
		CollateralMultiplier: decimal.New(1, int32(collateralDecimals)),
		MaxLoanToValue:       decimal.NewFromInt(maxLTV),
		MaintenanceThreshold: s.maintenanceThreshold,
	}

	switch s.kind {
	case risk.KindLiquidation:
		limit, err := s.ledger.LiquidationLimit(ctx, s.vault, s.collateral)
		if err != nil {
			return fmt.Errorf("resolve liquidation limit: %w", err)
		}
		s.params.LiquidationLimit = decimal.NewFromInt(limit)
	case risk.KindMaintenance:
		limit, err := s.ledger.MaintenanceLimit(ctx, s.vault, s.collateral)
		if err != nil {
			return fmt.Errorf("resolve maintenance limit: %w", err)
		}
		bonus, err := s.ledger.MaintenanceBonus(ctx, s.vault, s.collateral)
		if err != nil {
			return fmt.Errorf("resolve maintenance bonus: %w", err)
		}
		s.params.MaintenanceLimit = decimal.NewFromInt(limit)
		s.params.MaintenanceBonus = decimal.NewFromInt(bonus)
	}

	balance, err := s.ledger.BalanceOf(ctx, s.debt, s.actor)
	if err != nil {
		return fmt.Errorf("resolve agent balance: %w", err)
	}

	if err := s.tracker.Start(ctx); err != nil {
		return fmt.Errorf("start confirmation stream: %w", err)
	}

	s.logger.Info().
		Str("mode", s.mode).
		Str("collateral", s.collateralSymbol).
		Str("debt", s.debtSymbol).
		Str("max_ltv", s.params.MaxLoanToValue.String()).
		Str("balance", s.scaleDebt(balance).String()).
		Msg("protocol context resolved")

	s.sink.Init(ctx, s.collateralSymbol, s.debtSymbol, s.scaleDebt(balance))
	return nil
}

// Iterate runs one full pass: quote prices, check the agent balance, walk
// vault pages until a correction lands or the listing is exhausted, then
// rebalance accrued collateral. It is the scheduler's tick function.
func (s *Service) Iterate(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip iteration because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	sample := storage.IterationSample{
		Tick:      tick,
		Mode:      s.mode,
		Balance:   decimal.Zero,
		Status:    "complete",
		CreatedAt: time.Now().UTC(),
	}

	execErr := s.executeIteration(ctx, tick, &sample)
	if execErr != nil {
		msg := execErr.Error()
		sample.Status = "errored"
		sample.Error = &msg
	}

	if s.samples != nil {
		if err := s.samples.UpsertIterationSample(ctx, sample); err != nil {
			s.logger.Error().Err(err).Time("tick", tick).Msg("failed to persist iteration sample")
		}
	}

	return execErr
}

func (s *Service) executeIteration(ctx context.Context, tick time.Time, sample *storage.IterationSample) error {
	quote, err := s.quoter.Quote(ctx, s.onChainPriceOnly)
	if err != nil {
		return fmt.Errorf("aggregate prices: %w", err)
	}
	sample.CollateralPrice = quote.CollateralCombined
	sample.DebtPrice = quote.DebtPrice

	balance, err := s.ledger.BalanceOf(ctx, s.debt, s.actor)
	if err != nil {
		return fmt.Errorf("read agent balance: %w", err)
	}
	scaledBalance := s.scaleDebt(balance)
	sample.Balance = scaledBalance

	if s.lowBalanceThreshold.IsPositive() && scaledBalance.LessThan(s.lowBalanceThreshold) {
		s.logger.Warn().
			Str("balance", scaledBalance.String()).
			Str("threshold", s.lowBalanceThreshold.String()).
			Msg("agent balance below threshold")
		s.sink.LowBalance(ctx, s.collateralSymbol, s.debtSymbol, scaledBalance, s.lowBalanceThreshold)
	}

	corrected := false
pages:
	for pageNum := 0; ; pageNum++ {
		positions, err := s.scanner.Page(ctx, pageNum)
		if err != nil {
			return fmt.Errorf("scan page %d: %w", pageNum, err)
		}
		sample.PagesScanned = int64(pageNum + 1)
		if len(positions) == 0 {
			break
		}

		for _, pos := range positions {
			// A drained vault cannot be corrected and would divide by zero.
			if pos.CollateralBalance == nil || pos.CollateralBalance.Sign() == 0 {
				continue
			}

			acted, err := s.attemptCorrection(ctx, tick, balance, pos, quote)
			if err != nil {
				s.logger.Error().Err(err).
					Str("account", pos.Account.Hex()).
					Msg("correction attempt failed")
				continue
			}
			if acted {
				corrected = true
				sample.Corrections++
				break pages
			}
		}
	}

	if !corrected {
		s.logger.Info().Time("tick", tick).Msg("no correction opportunities this iteration")
	}

	if s.autoSwap {
		if err := s.rebalance(ctx, quote); err != nil {
			s.logger.Error().Err(err).Msg("rebalance failed")
		}
	}

	return nil
}

// attemptCorrection evaluates one position and, if it is above the LTV
// ceiling, submits a correction and waits on its confirmation. It returns
// true when a correction was attempted, whether or not its event arrived in
// time: an unconfirmed transaction may still land, so trying another target
// with the same funds risks a double spend.
func (s *Service) attemptCorrection(ctx context.Context, tick time.Time, actorBalance *big.Int, pos chain.Position, quote pricefeed.Quote) (bool, error) {
	decision := risk.Evaluate(s.params, s.kind, actorBalance, pos, quote)
	if decision.Skip != "" {
		s.logger.Debug().
			Str("account", pos.Account.Hex()).
			Str("ltv", decision.LoanToValue.StringFixed(2)).
			Str("skip", decision.Skip).
			Msg("position evaluated")
		return false, nil
	}

	s.logger.Info().
		Str("account", pos.Account.Hex()).
		Str("ltv", decision.LoanToValue.StringFixed(2)).
		Str("quantity", decision.Quantity.String()).
		Str("kind", string(s.kind)).
		Msg("correction opportunity found")

	intent := risk.Intent{
		Kind:     s.kind,
		Target:   pos.Account,
		Quantity: decision.Quantity,
		Quote:    quote,
	}

	eventID := chain.MaintenanceEventID
	if s.kind == risk.KindLiquidation {
		eventID = chain.LiquidationEventID
	}
	pending := s.tracker.Expect(func(l types.Log) bool {
		return chain.MatchCorrection(l, eventID, s.vault, s.collateral, s.debt, s.actor, pos.Account)
	})

	hash, err := s.submitter.Submit(ctx, intent)
	if err != nil {
		pending.Cancel()
		s.sink.CorrectionFailed(ctx, string(s.kind), s.collateralSymbol, s.debtSymbol)
		s.recordCorrection(ctx, tick, pos, decision, nil, "failed")
		return false, err
	}

	var txHash string
	if hash != nil {
		txHash = hash.Hex()
	}
	s.sink.CorrectionInitiated(ctx, string(s.kind), s.collateralSymbol, s.debtSymbol, s.scaleDebt(decision.Quantity), txHash)

	if hash == nil {
		// Dry run: nothing was broadcast, so no event will ever arrive.
		pending.Cancel()
		s.recordCorrection(ctx, tick, pos, decision, nil, "dry_run")
		return true, nil
	}

	result, err := pending.Await(ctx)
	if err != nil {
		return true, err
	}

	switch result.Status {
	case confirm.StatusConfirmed:
		ev, parseErr := chain.ParseCorrectionEvent(result.Log)
		if parseErr != nil {
			s.logger.Error().Err(parseErr).Str("tx", txHash).Msg("confirmed event failed to decode")
			s.sink.CorrectionConfirmed(ctx, string(s.kind), s.collateralSymbol, s.debtSymbol, s.scaleDebt(decision.Quantity), decimal.Zero)
		} else {
			s.logger.Info().
				Str("account", pos.Account.Hex()).
				Str("tx", txHash).
				Str("debt_quantity", ev.DebtQuantity.String()).
				Str("collateral_quantity", ev.CollateralQuantity.String()).
				Msg("correction confirmed")
			s.sink.CorrectionConfirmed(ctx, string(s.kind), s.collateralSymbol, s.debtSymbol, s.scaleDebt(ev.DebtQuantity), s.scaleCollateral(ev.CollateralQuantity))
		}
		s.recordCorrection(ctx, tick, pos, decision, &txHash, "confirmed")
	default:
		s.logger.Warn().
			Str("account", pos.Account.Hex()).
			Str("tx", txHash).
			Msg("correction unconfirmed before deadline")
		s.sink.CorrectionUnconfirmed(ctx, string(s.kind), s.collateralSymbol, s.debtSymbol)
		s.recordCorrection(ctx, tick, pos, decision, &txHash, "unconfirmed")
	}

	return true, nil
}

// rebalance converts accrued collateral back into the debt asset so the
// agent's working capital is replenished. Wrapped collateral is first exited
// to its underlying, confirmed by the resulting Transfer, then swapped.
func (s *Service) rebalance(ctx context.Context, quote pricefeed.Quote) error {
	collateralBalance, err := s.ledger.BalanceOf(ctx, s.collateral, s.actor)
	if err != nil {
		return fmt.Errorf("read collateral balance: %w", err)
	}
	if s.swapThreshold.Sign() <= 0 || collateralBalance.Cmp(s.swapThreshold) <= 0 {
		return nil
	}

	swapToken := s.collateral
	swapSymbol := s.collateralSymbol
	swapAmount := collateralBalance

	if s.wrapped != (common.Address{}) && s.collateral == s.wrapped {
		received, err := s.exitWrapped(ctx, collateralBalance)
		if err != nil || received == nil {
			return err
		}
		swapToken = s.underlying
		swapSymbol = s.underlyingSymbol
		swapAmount = received
	}

	return s.swap(ctx, quote, swapToken, swapSymbol, swapAmount)
}

// exitWrapped withdraws the wrapped position and returns the underlying
// quantity received, or nil when the exit did not demonstrably complete.
func (s *Service) exitWrapped(ctx context.Context, quantity *big.Int) (*big.Int, error) {
	call, err := chain.WithdrawCall(s.wrapped, quantity)
	if err != nil {
		return nil, err
	}

	pending := s.tracker.Expect(func(l types.Log) bool {
		return chain.MatchTransfer(l, s.underlying, s.actor)
	})

	hash, err := s.submitter.Send(ctx, call)
	if err != nil {
		pending.Cancel()
		s.sink.ExitFailed(ctx, s.collateralSymbol)
		return nil, err
	}

	var txHash string
	if hash != nil {
		txHash = hash.Hex()
	}
	s.sink.ExitInitiated(ctx, s.collateralSymbol, s.scaleCollateral(quantity), txHash)

	if hash == nil {
		pending.Cancel()
		return nil, nil
	}

	result, err := pending.Await(ctx)
	if err != nil {
		return nil, err
	}
	if result.Status != confirm.StatusConfirmed {
		s.sink.ExitUnconfirmed(ctx, s.collateralSymbol)
		return nil, nil
	}

	ev, err := chain.ParseTransferEvent(result.Log)
	if err != nil {
		return nil, fmt.Errorf("decode exit transfer: %w", err)
	}
	s.sink.ExitConfirmed(ctx, s.collateralSymbol, s.underlyingSymbol, s.scaleCollateral(quantity), s.scaleCollateral(ev.Quantity))
	return ev.Quantity, nil
}

func (s *Service) swap(ctx context.Context, quote pricefeed.Quote, tokenIn common.Address, symbolIn string, amountIn *big.Int) error {
	minOut := s.minSwapOut(quote, amountIn)
	call, err := chain.SwapCall(s.router, tokenIn, s.debt, amountIn, minOut)
	if err != nil {
		return err
	}

	pending := s.tracker.Expect(func(l types.Log) bool {
		return chain.MatchTransfer(l, s.debt, s.actor)
	})

	hash, err := s.submitter.Send(ctx, call)
	if err != nil {
		pending.Cancel()
		s.sink.SwapFailed(ctx, symbolIn, s.debtSymbol)
		return err
	}

	var txHash string
	if hash != nil {
		txHash = hash.Hex()
	}
	s.sink.SwapInitiated(ctx, symbolIn, s.debtSymbol, s.scaleCollateral(amountIn), txHash)

	if hash == nil {
		pending.Cancel()
		return nil
	}

	result, err := pending.Await(ctx)
	if err != nil {
		return err
	}
	if result.Status != confirm.StatusConfirmed {
		s.sink.SwapUnconfirmed(ctx, symbolIn, s.debtSymbol)
		return nil
	}

	ev, err := chain.ParseTransferEvent(result.Log)
	if err != nil {
		return fmt.Errorf("decode swap transfer: %w", err)
	}
	s.sink.SwapConfirmed(ctx, symbolIn, s.debtSymbol, s.scaleCollateral(amountIn), s.scaleDebt(ev.Quantity))
	return nil
}

// minSwapOut prices the input at the aggregated quote and allows 1% slippage.
func (s *Service) minSwapOut(quote pricefeed.Quote, amountIn *big.Int) *big.Int {
	if quote.DebtPrice.IsZero() {
		return big.NewInt(0)
	}
	expected := decimal.NewFromBigInt(amountIn, 0).
		Mul(quote.CollateralCombined).
		Mul(s.params.DebtMultiplier).
		Div(quote.DebtPrice.Mul(s.params.CollateralMultiplier))
	return expected.Mul(decimal.NewFromInt(99)).Div(decimal.NewFromInt(100)).Floor().BigInt()
}

func (s *Service) recordCorrection(ctx context.Context, tick time.Time, pos chain.Position, decision risk.Decision, txHash *string, outcome string) {
	if s.corrections == nil {
		return
	}
	attempt := storage.CorrectionAttempt{
		Tick:        tick,
		Kind:        string(s.kind),
		Account:     pos.Account.Hex(),
		LoanToValue: decision.LoanToValue,
		Quantity:    s.scaleDebt(decision.Quantity),
		TxHash:      txHash,
		Outcome:     outcome,
	}
	if _, err := s.corrections.InsertCorrection(ctx, attempt); err != nil {
		s.logger.Error().Err(err).Str("account", attempt.Account).Msg("failed to persist correction attempt")
	}
}

func (s *Service) scaleDebt(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, 0).Div(s.params.DebtMultiplier)
}

func (s *Service) scaleCollateral(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, 0).Div(s.params.CollateralMultiplier)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
