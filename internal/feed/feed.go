package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gasfund/internal/gas"
)

// ErrUnavailable marks a source failure for the current round. The
// oracle logs it and keeps merging; it never aborts a round.
var ErrUnavailable = errors.New("feed: source unavailable")

// Source is one upstream gas price channel. Implementations must be
// safe for concurrent Sample calls.
type Source interface {
	Name() string
	Sample(ctx context.Context) (gas.Sample, error)
}

// Known source types.
const (
	TypeRPC       = "rpc"
	TypeEtherscan = "etherscan"
)

// Config selects and parameterises a single source instance.
type Config struct {
	Type    string        `mapstructure:"type"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// New resolves a source config to a concrete adapter. Unknown types
// fail here, at startup, rather than at sample time.
func New(cfg Config, logger zerolog.Logger) (Source, error) {
	switch cfg.Type {
	case TypeRPC:
		return NewRPC(RPCOptions{URL: cfg.URL, Timeout: cfg.Timeout}, logger), nil
	case TypeEtherscan:
		return NewEtherscan(EtherscanOptions{BaseURL: cfg.URL, APIKey: cfg.APIKey, Timeout: cfg.Timeout}, logger), nil
	default:
		return nil, fmt.Errorf("feed: unknown source type %q", cfg.Type)
	}
}

// Build resolves a list of source configs, failing on the first bad
// entry.
func Build(cfgs []Config, logger zerolog.Logger) ([]Source, error) {
	sources := make([]Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		src, err := New(cfg, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}
