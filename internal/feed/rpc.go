package feed

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gasfund/internal/gas"
)

const feeHistoryBlocks = 5

// Reward percentiles requested per block, slow to fast.
var feeHistoryPercentiles = []float64{25, 50, 75}

// Priority fee cushions applied to the percentile rewards.
const (
	slowPriorityFactor     = 0.9
	standardPriorityFactor = 1.1
	fastPriorityFactor     = 1.3
)

// RPCOptions parameterise the on-chain source.
type RPCOptions struct {
	URL     string
	Timeout time.Duration
}

// RPC derives tiered prices from eth_feeHistory reward percentiles
// plus the upcoming base fee.
type RPC struct {
	opts      RPCOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewRPC builds the on-chain source.
func NewRPC(opts RPCOptions, logger zerolog.Logger) *RPC {
	return &RPC{opts: opts, logger: logger.With().Str("component", "rpc_source").Logger()}
}

// Name implements Source.
func (r *RPC) Name() string { return TypeRPC }

// Sample implements Source.
func (r *RPC) Sample(ctx context.Context) (gas.Sample, error) {
	if r.opts.URL == "" {
		return gas.Sample{}, fmt.Errorf("%w: ethereum rpc url not configured", ErrUnavailable)
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return gas.Sample{}, fmt.Errorf("%w: dial rpc: %v", ErrUnavailable, err)
	}

	hist, err := client.FeeHistory(ctx, feeHistoryBlocks, nil, feeHistoryPercentiles)
	if err != nil {
		return gas.Sample{}, fmt.Errorf("%w: fee history: %v", ErrUnavailable, err)
	}
	if len(hist.Reward) == 0 || len(hist.BaseFee) == 0 {
		return gas.Sample{}, fmt.Errorf("%w: fee history returned no rows", ErrUnavailable)
	}

	reward := hist.Reward[len(hist.Reward)-1]
	if len(reward) < len(feeHistoryPercentiles) {
		return gas.Sample{}, fmt.Errorf("%w: fee history returned %d percentiles", ErrUnavailable, len(reward))
	}

	// BaseFee carries one extra entry for the upcoming block.
	base := weiToGwei(hist.BaseFee[len(hist.BaseFee)-1])

	slow := tierPrice(base, reward[0], slowPriorityFactor)
	standard := tierPrice(base, reward[1], standardPriorityFactor)
	fast := tierPrice(base, reward[2], fastPriorityFactor)
	if standard == 0 {
		return gas.Sample{}, fmt.Errorf("%w: zero base fee and priority reward", ErrUnavailable)
	}

	return gas.Sample{
		Fast:     fast,
		Standard: standard,
		Slow:     slow,
		At:       time.Now().UTC(),
		Source:   r.Name(),
	}, nil
}

func (r *RPC) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.URL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

func tierPrice(baseGwei float64, priorityWei *big.Int, factor float64) uint64 {
	price := baseGwei + weiToGwei(priorityWei)*factor
	if price <= 0 || math.IsNaN(price) {
		return 0
	}
	return uint64(math.Round(price))
}

func weiToGwei(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, -9).InexactFloat64()
}

var _ Source = (*RPC)(nil)
