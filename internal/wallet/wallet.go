package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured is returned when no RPC endpoint was provided.
var ErrNotConfigured = errors.New("wallet: rpc url not configured")

// Options configure the wallet reader.
type Options struct {
	RPCURL  string
	Timeout time.Duration
}

// Wallet reads on-chain account balances over JSON-RPC.
type Wallet struct {
	opts   Options
	logger zerolog.Logger

	mux    sync.Mutex
	client *ethclient.Client
}

// New constructs a Wallet. The RPC connection is dialed lazily on
// first use.
func New(opts Options, logger zerolog.Logger) *Wallet {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Wallet{
		opts:   opts,
		logger: logger.With().Str("component", "wallet").Logger(),
	}
}

// Balance returns the ETH balance of address at the latest block.
func (w *Wallet) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("invalid address %q", address)
	}

	client, err := w.getClient(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	wei, err := client.BalanceAt(callCtx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch balance: %w", err)
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

func (w *Wallet) getClient(ctx context.Context) (*ethclient.Client, error) {
	w.mux.Lock()
	defer w.mux.Unlock()

	if w.client != nil {
		return w.client, nil
	}
	if w.opts.RPCURL == "" {
		return nil, ErrNotConfigured
	}

	client, err := ethclient.DialContext(ctx, w.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	w.client = client
	return client, nil
}

// Close releases the underlying RPC connection.
func (w *Wallet) Close() {
	w.mux.Lock()
	defer w.mux.Unlock()
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
}
