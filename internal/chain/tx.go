package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrFeeSimulation indicates the pre-broadcast simulation did not halt cleanly.
	ErrFeeSimulation = errors.New("fee simulation failed")
	// ErrBroadcast indicates the network rejected the signed transaction.
	ErrBroadcast = errors.New("broadcast rejected")
)

const (
	// witnessPadding accounts for the signature material appended to the
	// serialized call payload.
	witnessPadding = 109
	// witnessProcessingFee is the fixed cost of verifying the agent's
	// witness; running it costs the same for a basic account every time.
	witnessProcessingFee = 1_000_390
)

// Call is an unsigned contract invocation.
type Call struct {
	To          common.Address
	Data        []byte
	Description string
}

// FeeEstimate carries the two fee components resolved before signing.
type FeeEstimate struct {
	FeePerByte *big.Int
	NetworkFee *big.Int
	// GasLimit is the gas consumed by the simulated call (the system fee).
	GasLimit uint64
}

// NetworkFeeFor recomputes the transaction's network fee from its serialized
// size plus the fixed witness-processing constant.
func NetworkFeeFor(feePerByte *big.Int, payloadSize int) *big.Int {
	size := big.NewInt(int64(payloadSize + witnessPadding))
	fee := new(big.Int).Mul(feePerByte, size)
	return fee.Add(fee, big.NewInt(witnessProcessingFee))
}

// CheckFees resolves the network fee from the current fee-per-byte and the
// system fee from a simulation of the call. Both steps are mandatory before
// signing: skipping them risks broadcasting a transaction that reverts or
// overpays.
func (c *Client) CheckFees(ctx context.Context, call Call) (FeeEstimate, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.rpcClient(ctx)
	if err != nil {
		return FeeEstimate{}, err
	}

	feePerByte, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return FeeEstimate{}, fmt.Errorf("query fee per byte: %w", err)
	}
	networkFee := NetworkFeeFor(feePerByte, len(call.Data))

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.address,
		To:   &call.To,
		Data: call.Data,
	})
	if err != nil {
		return FeeEstimate{}, fmt.Errorf("%w: %s: %v", ErrFeeSimulation, call.Description, err)
	}

	est := FeeEstimate{FeePerByte: feePerByte, NetworkFee: networkFee, GasLimit: gas}
	c.logger.Debug().
		Str("call", call.Description).
		Str("network_fee", networkFee.String()).
		Uint64("system_fee", gas).
		Msg("fees resolved")
	return est, nil
}

// SignAndBroadcast signs the call with the agent key and submits it,
// returning the transaction hash.
func (c *Client) SignAndBroadcast(ctx context.Context, call Call, fees FeeEstimate) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, errors.New("no private key configured")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.rpcClient(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("query nonce: %w", err)
	}

	tx := types.NewTransaction(nonce, call.To, big.NewInt(0), fees.GasLimit, fees.FeePerByte, call.Data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %s: %v", ErrBroadcast, call.Description, err)
	}

	hash := signed.Hash()
	c.logger.Info().Str("tx", hash.Hex()).Str("call", call.Description).Msg("transaction broadcast")
	return hash, nil
}

// LiquidateCall builds a combined-price liquidation against a target account.
func LiquidateCall(vault, debt, collateral, target common.Address, quantity *big.Int, payload, signature []byte) (Call, error) {
	data, err := vaultABI.Pack("liquidate", debt, collateral, target, quantity, payload, signature)
	if err != nil {
		return Call{}, fmt.Errorf("pack liquidate: %w", err)
	}
	return Call{To: vault, Data: data, Description: fmt.Sprintf("Vault::liquidate(%s, %s)", debt.Hex(), collateral.Hex())}, nil
}

// LiquidateOCPCall builds an on-chain-price-only liquidation.
func LiquidateOCPCall(vault, debt, collateral, target common.Address, quantity *big.Int) (Call, error) {
	data, err := vaultABI.Pack("liquidateOCP", debt, collateral, target, quantity)
	if err != nil {
		return Call{}, fmt.Errorf("pack liquidateOCP: %w", err)
	}
	return Call{To: vault, Data: data, Description: fmt.Sprintf("Vault::liquidateOCP(%s, %s)", debt.Hex(), collateral.Hex())}, nil
}

// MaintainCall builds a combined-price margin maintenance.
func MaintainCall(vault, debt, collateral, target common.Address, quantity *big.Int, payload, signature []byte) (Call, error) {
	data, err := vaultABI.Pack("maintain", debt, collateral, target, quantity, payload, signature)
	if err != nil {
		return Call{}, fmt.Errorf("pack maintain: %w", err)
	}
	return Call{To: vault, Data: data, Description: fmt.Sprintf("Vault::maintain(%s, %s)", debt.Hex(), collateral.Hex())}, nil
}

// MaintainOCPCall builds an on-chain-price-only margin maintenance.
func MaintainOCPCall(vault, debt, collateral, target common.Address, quantity *big.Int) (Call, error) {
	data, err := vaultABI.Pack("maintainOCP", debt, collateral, target, quantity)
	if err != nil {
		return Call{}, fmt.Errorf("pack maintainOCP: %w", err)
	}
	return Call{To: vault, Data: data, Description: fmt.Sprintf("Vault::maintainOCP(%s, %s)", debt.Hex(), collateral.Hex())}, nil
}

// TransferCall builds a plain token transfer.
func TransferCall(token, to common.Address, quantity *big.Int) (Call, error) {
	data, err := tokenABI.Pack("transfer", to, quantity)
	if err != nil {
		return Call{}, fmt.Errorf("pack transfer: %w", err)
	}
	return Call{To: token, Data: data, Description: fmt.Sprintf("Token::transfer(%s)", to.Hex())}, nil
}

// WithdrawCall builds an exit from a wrapped staking position.
func WithdrawCall(wrapped common.Address, quantity *big.Int) (Call, error) {
	data, err := tokenABI.Pack("withdraw", quantity)
	if err != nil {
		return Call{}, fmt.Errorf("pack withdraw: %w", err)
	}
	return Call{To: wrapped, Data: data, Description: fmt.Sprintf("%s::withdraw()", wrapped.Hex())}, nil
}

// SwapCall builds a router swap of the full input amount.
func SwapCall(router, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) (Call, error) {
	data, err := routerABI.Pack("swapTokenInForTokenOut", tokenIn, tokenOut, amountIn, minAmountOut)
	if err != nil {
		return Call{}, fmt.Errorf("pack swapTokenInForTokenOut: %w", err)
	}
	return Call{To: router, Data: data, Description: fmt.Sprintf("Router::swapTokenInForTokenOut(%s, %s)", tokenIn.Hex(), tokenOut.Hex())}, nil
}
