// Package oracle fetches prices from independent public sources, computes
// resolution medians, and produces HMAC-signed attestations of the readings
// used to settle markets.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Reading is one price observation from one source.
type Reading struct {
	Source    string
	Pair      string
	Price     float64
	Timestamp time.Time
}

// PriceSource fetches the current price of a pair from one upstream.
type PriceSource interface {
	Name() string
	FetchPrice(ctx context.Context, pair string) (Reading, error)
}

// splitPair turns "QUBIC/USDT" into its base and quote symbols.
func splitPair(pair string) (base, quote string, err error) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("oracle: malformed pair %q", pair)
	}
	return parts[0], parts[1], nil
}

func fetchJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Binance
// --------------------------------------------------------------------------

// BinanceSource reads spot ticker prices from the Binance REST API.
type BinanceSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewBinanceSource creates a Binance source. baseURL defaults to the public
// API when empty.
func NewBinanceSource(baseURL string, timeout time.Duration) *BinanceSource {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) FetchPrice(ctx context.Context, pair string) (Reading, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return Reading{}, err
	}

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	u := s.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(base+quote)
	if err := fetchJSON(ctx, s.httpClient, u, &resp); err != nil {
		return Reading{}, fmt.Errorf("oracle/binance: %s: %w", pair, err)
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("oracle/binance: parse price %q: %w", resp.Price, err)
	}

	return Reading{Source: s.Name(), Pair: pair, Price: price, Timestamp: time.Now().UTC()}, nil
}

// --------------------------------------------------------------------------
// Gate
// --------------------------------------------------------------------------

// GateSource reads spot ticker prices from the Gate.io REST API.
type GateSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewGateSource creates a Gate source. baseURL defaults to the public API
// when empty.
func NewGateSource(baseURL string, timeout time.Duration) *GateSource {
	if baseURL == "" {
		baseURL = "https://api.gateio.ws"
	}
	return &GateSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *GateSource) Name() string { return "gate" }

func (s *GateSource) FetchPrice(ctx context.Context, pair string) (Reading, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return Reading{}, err
	}

	var resp []struct {
		CurrencyPair string `json:"currency_pair"`
		Last         string `json:"last"`
	}
	u := s.baseURL + "/api/v4/spot/tickers?currency_pair=" + url.QueryEscape(base+"_"+quote)
	if err := fetchJSON(ctx, s.httpClient, u, &resp); err != nil {
		return Reading{}, fmt.Errorf("oracle/gate: %s: %w", pair, err)
	}
	if len(resp) == 0 {
		return Reading{}, fmt.Errorf("oracle/gate: empty ticker response for %s", pair)
	}

	price, err := strconv.ParseFloat(resp[0].Last, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("oracle/gate: parse price %q: %w", resp[0].Last, err)
	}

	return Reading{Source: s.Name(), Pair: pair, Price: price, Timestamp: time.Now().UTC()}, nil
}

// --------------------------------------------------------------------------
// MEXC
// --------------------------------------------------------------------------

// MEXCSource reads spot ticker prices from the MEXC REST API, which mirrors
// the Binance ticker shape.
type MEXCSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewMEXCSource creates a MEXC source. baseURL defaults to the public API
// when empty.
func NewMEXCSource(baseURL string, timeout time.Duration) *MEXCSource {
	if baseURL == "" {
		baseURL = "https://api.mexc.com"
	}
	return &MEXCSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *MEXCSource) Name() string { return "mexc" }

func (s *MEXCSource) FetchPrice(ctx context.Context, pair string) (Reading, error) {
	base, quote, err := splitPair(pair)
	if err != nil {
		return Reading{}, err
	}

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	u := s.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(base+quote)
	if err := fetchJSON(ctx, s.httpClient, u, &resp); err != nil {
		return Reading{}, fmt.Errorf("oracle/mexc: %s: %w", pair, err)
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("oracle/mexc: parse price %q: %w", resp.Price, err)
	}

	return Reading{Source: s.Name(), Pair: pair, Price: price, Timestamp: time.Now().UTC()}, nil
}
