package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Position is a borrower's vault snapshot for one (collateral, debt) pair.
// Balances are raw integer amounts in the token's smallest unit.
type Position struct {
	Account           common.Address
	CollateralBalance *big.Int
	DebtBalance       *big.Int
}

// Options parameterise ledger connectivity.
type Options struct {
	RPCURL     string
	WSURL      string
	ChainID    int64
	PrivateKey string
	Timeout    time.Duration
}

// Client provides read, write, and subscription access to the ledger.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	rpcMux sync.Mutex
	rpc    *ethclient.Client
	wsMux  sync.Mutex
	ws     *ethclient.Client
}

// NewClient builds a ledger client. The private key is optional; read-only
// commands work without it, but signing requires one.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("ledger rpc url not configured")
	}

	c := &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "chain_client").Logger(),
		chainID: big.NewInt(opts.ChainID),
	}

	if opts.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.key = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Address returns the agent's own account address.
func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) rpcClient(ctx context.Context) (*ethclient.Client, error) {
	c.rpcMux.Lock()
	defer c.rpcMux.Unlock()

	if c.rpc != nil {
		return c.rpc, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoint: %w", err)
	}
	c.rpc = client
	return client, nil
}

func (c *Client) wsClient(ctx context.Context) (*ethclient.Client, error) {
	c.wsMux.Lock()
	defer c.wsMux.Unlock()

	if c.ws != nil {
		return c.ws, nil
	}
	if c.opts.WSURL == "" {
		return nil, errors.New("ledger websocket url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.WSURL)
	if err != nil {
		return nil, fmt.Errorf("dial websocket endpoint: %w", err)
	}
	c.ws = client
	return client, nil
}

// call is the entry point for all read operations.
func (c *Client) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.rpcClient(ctx)
	if err != nil {
		return nil, err
	}

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s call: %w", method, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s read call: %w", method, err)
	}

	outputs, err := parsed.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s result: %w", method, err)
	}
	return outputs, nil
}

// Symbol reads a token's display symbol.
func (c *Client) Symbol(ctx context.Context, token common.Address) (string, error) {
	outputs, err := c.call(ctx, token, tokenABI, "symbol")
	if err != nil {
		return "", err
	}
	symbol, ok := outputs[0].(string)
	if !ok {
		return "", errors.New("unexpected symbol response")
	}
	return symbol, nil
}

// Decimals reads a token's decimal precision.
func (c *Client) Decimals(ctx context.Context, token common.Address) (int64, error) {
	outputs, err := c.call(ctx, token, tokenABI, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("unexpected decimals response")
	}
	return int64(decimals), nil
}

// BalanceOf reads a raw token balance.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	outputs, err := c.call(ctx, token, tokenABI, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return asBigInt(outputs[0], "balanceOf")
}

// vaultParam reads one integer risk parameter keyed by collateral token.
func (c *Client) vaultParam(ctx context.Context, vault common.Address, method string, collateral common.Address) (int64, error) {
	outputs, err := c.call(ctx, vault, vaultABI, method, collateral)
	if err != nil {
		return 0, err
	}
	value, err := asBigInt(outputs[0], method)
	if err != nil {
		return 0, err
	}
	return value.Int64(), nil
}

// MaxLoanToValue reads the protocol's LTV ceiling for a collateral token.
func (c *Client) MaxLoanToValue(ctx context.Context, vault, collateral common.Address) (int64, error) {
	return c.vaultParam(ctx, vault, "maxLoanToValue", collateral)
}

// LiquidationLimit reads the percentage cap on liquidation quantities.
func (c *Client) LiquidationLimit(ctx context.Context, vault, collateral common.Address) (int64, error) {
	return c.vaultParam(ctx, vault, "liquidationLimit", collateral)
}

// LiquidationBonus reads the liquidator's collateral discount percent.
func (c *Client) LiquidationBonus(ctx context.Context, vault, collateral common.Address) (int64, error) {
	return c.vaultParam(ctx, vault, "liquidationBonus", collateral)
}

// MaintenanceLimit reads the percentage cap on maintenance quantities.
func (c *Client) MaintenanceLimit(ctx context.Context, vault, collateral common.Address) (int64, error) {
	return c.vaultParam(ctx, vault, "maintenanceLimit", collateral)
}

// MaintenanceBonus reads the maintainer's collateral bonus percent.
func (c *Client) MaintenanceBonus(ctx context.Context, vault, collateral common.Address) (int64, error) {
	return c.vaultParam(ctx, vault, "maintenanceBonus", collateral)
}

// OnChainPrice reads the oracle price of a token at the requested precision.
func (c *Client) OnChainPrice(ctx context.Context, vault, token common.Address, decimals int64) (*big.Int, error) {
	outputs, err := c.call(ctx, vault, vaultABI, "onChainPrice", token, big.NewInt(decimals))
	if err != nil {
		return nil, err
	}
	return asBigInt(outputs[0], "onChainPrice")
}

type vaultRecord struct {
	Account           common.Address `abi:"account"`
	CollateralBalance *big.Int       `abi:"collateralBalance"`
	DebtBalance       *big.Int       `abi:"debtBalance"`
}

// VaultPage reads one page of open positions for a (collateral, debt) pair.
// An empty page marks the end of the traversal.
func (c *Client) VaultPage(ctx context.Context, vault, collateral, debt common.Address, pageSize, pageNum int) ([]Position, error) {
	outputs, err := c.call(ctx, vault, vaultABI, "vaults", collateral, debt, big.NewInt(int64(pageSize)), big.NewInt(int64(pageNum)))
	if err != nil {
		return nil, err
	}

	records := *abi.ConvertType(outputs[0], new([]vaultRecord)).(*[]vaultRecord)
	positions := make([]Position, 0, len(records))
	for _, rec := range records {
		positions = append(positions, Position{
			Account:           rec.Account,
			CollateralBalance: rec.CollateralBalance,
			DebtBalance:       rec.DebtBalance,
		})
	}
	return positions, nil
}

// BlockHeight reads the current chain head number.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.rpcClient(ctx)
	if err != nil {
		return 0, err
	}
	return client.BlockNumber(ctx)
}

// SubscribeLogs opens a log stream scoped to the given contract addresses.
func (c *Client) SubscribeLogs(ctx context.Context, addresses []common.Address, ch chan<- types.Log) (ethereum.Subscription, error) {
	client, err := c.wsClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{Addresses: addresses}, ch)
}

func asBigInt(v interface{}, method string) (*big.Int, error) {
	value, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s response type %T", method, v)
	}
	return value, nil
}
