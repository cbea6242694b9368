package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gasfund/internal/gas"
)

const gasOraclePath = "/api?module=gastracker&action=gasoracle"

// EtherscanOptions parameterise the gas tracker client.
type EtherscanOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Etherscan polls the Etherscan-style gas tracker endpoint.
type Etherscan struct {
	opts    EtherscanOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewEtherscan constructs the gas tracker source.
func NewEtherscan(opts EtherscanOptions, logger zerolog.Logger) *Etherscan {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.etherscan.io"
	}

	return &Etherscan{
		opts:    opts,
		logger:  logger.With().Str("component", "etherscan_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name implements Source.
func (e *Etherscan) Name() string { return TypeEtherscan }

// Sample implements Source.
func (e *Etherscan) Sample(ctx context.Context) (gas.Sample, error) {
	endpoint := e.baseURL + gasOraclePath
	if e.opts.APIKey != "" {
		endpoint += "&apikey=" + url.QueryEscape(e.opts.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gas.Sample{}, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(e.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "gasfund/1.0")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return gas.Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return gas.Sample{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return gas.Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, parseHTTPError(resp.StatusCode, payloadBytes))
	}

	var oracleRes gasOracleResponse
	if err := json.Unmarshal(payloadBytes, &oracleRes); err != nil {
		return gas.Sample{}, fmt.Errorf("%w: decode gas oracle response: %v", ErrUnavailable, err)
	}
	if oracleRes.Status != "1" {
		return gas.Sample{}, fmt.Errorf("%w: gas oracle status %q: %s", ErrUnavailable, oracleRes.Status, oracleRes.Message)
	}

	slow, err := parseGwei(oracleRes.Result.SafeGasPrice)
	if err != nil {
		return gas.Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	standard, err := parseGwei(oracleRes.Result.ProposeGasPrice)
	if err != nil {
		return gas.Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	fast, err := parseGwei(oracleRes.Result.FastGasPrice)
	if err != nil {
		return gas.Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if standard == 0 {
		return gas.Sample{}, fmt.Errorf("%w: gas oracle returned zero standard price", ErrUnavailable)
	}

	return gas.Sample{
		Fast:     fast,
		Standard: standard,
		Slow:     slow,
		At:       time.Now().UTC(),
		Source:   e.Name(),
	}, nil
}

type gasOracleResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  struct {
		LastBlock       string `json:"LastBlock"`
		SafeGasPrice    string `json:"SafeGasPrice"`
		ProposeGasPrice string `json:"ProposeGasPrice"`
		FastGasPrice    string `json:"FastGasPrice"`
		SuggestBaseFee  string `json:"suggestBaseFee"`
	} `json:"result"`
}

type errorResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func parseGwei(v string) (uint64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse gwei value %q: %v", v, err)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("gwei value %q out of range", v)
	}
	return uint64(math.Round(f)), nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		var detail string
		_ = json.Unmarshal(apiErr.Result, &detail)
		if detail != "" {
			return fmt.Errorf("gas tracker error (%d): %s", status, detail)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("gas tracker error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("gas tracker error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("gas tracker error (%d)", status)
}

var _ Source = (*Etherscan)(nil)
