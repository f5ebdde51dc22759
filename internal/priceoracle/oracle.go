// Package priceoracle implements C2: a USD price lookup for the target
// token, backed by a TTL cache in front of an HTTPS DEX-quote endpoint.
package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/cryptoKingdom88/chainwatch/internal/domain"
	"github.com/cryptoKingdom88/chainwatch/internal/metrics"
	"github.com/cryptoKingdom88/chainwatch/internal/pipelineerr"
)

// cache is the subset of the go-redis client the oracle needs; satisfied
// directly by *redis.Client, and narrowed here so tests can fake it.
type cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd
}

// quoteFetcher fetches the raw set of liquidity pairs for a mint from the
// upstream DEX-quote provider.
type quoteFetcher interface {
	FetchPairs(ctx context.Context, mint string) ([]domain.DexPair, error)
}

// Oracle resolves a token mint's USD price, caching successful lookups and
// never caching a failed fetch.
type Oracle struct {
	cache   cache
	fetcher quoteFetcher
	ttl     time.Duration
	logger  *logrus.Entry
}

// New builds an Oracle backed by the given Redis client (shared with the
// window store's connection pool — the cache lives in its own key
// namespace) and the DEX-quote HTTP endpoint.
func New(redisClient *redis.Client, dexQuoteURL string, ttl time.Duration, logger *logrus.Entry) *Oracle {
	return &Oracle{
		cache:   redisClient,
		fetcher: &httpQuoteFetcher{baseURL: dexQuoteURL, client: &http.Client{Timeout: 5 * time.Second}},
		ttl:     ttl,
		logger:  logger,
	}
}

func cacheKey(mint string) string {
	return fmt.Sprintf("price:%s", mint)
}

// USDValue resolves rawAmount (scaled by decimals) of mint into USD. It
// returns a nil pointer, not an error, when the price cannot be resolved —
// per spec §4.2/§7, rules needing usd are simply skipped, the pipeline
// does not fail the event.
func (o *Oracle) USDValue(ctx context.Context, mint string, rawAmount uint64, decimals int) (*float64, error) {
	price, err := o.price(ctx, mint)
	if err != nil {
		o.logger.WithError(err).WithField("mint", mint).Warn("price resolution failed")
		return nil, nil
	}

	divisor := math.Pow(10, float64(decimals))
	usd := float64(rawAmount) / divisor * price
	return &usd, nil
}

// price returns the current USD price for mint, consulting the cache
// first and falling back to the upstream fetch on a miss or expiry.
func (o *Oracle) price(ctx context.Context, mint string) (float64, error) {
	start := time.Now()
	source := "fetch"
	defer func() {
		metrics.PriceResolutionDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	if cached, ok := o.readCache(ctx, mint); ok {
		source = "cache"
		return cached, nil
	}

	pairs, err := o.fetcher.FetchPairs(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("fetch quote: %w: %w", pipelineerr.ErrUpstreamQuote, err)
	}

	best, ok := bestPair(pairs)
	if !ok {
		return 0, fmt.Errorf("no valid priced pair for mint %s: %w", mint, pipelineerr.ErrUpstreamQuote)
	}

	price, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil || price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return 0, fmt.Errorf("invalid priceUsd %q for mint %s: %w", best.PriceUSD, mint, pipelineerr.ErrUpstreamQuote)
	}

	if setErr := o.cache.Set(ctx, cacheKey(mint), strconv.FormatFloat(price, 'f', -1, 64), o.ttl).Err(); setErr != nil {
		o.logger.WithError(setErr).WithField("mint", mint).Warn("failed to write price cache")
	}

	return price, nil
}

func (o *Oracle) readCache(ctx context.Context, mint string) (float64, bool) {
	val, err := o.cache.Get(ctx, cacheKey(mint)).Result()
	if err != nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// bestPair selects the pair with the greatest USD liquidity whose
// priceUsd parses as a positive finite number, per spec §4.2 step 3.
func bestPair(pairs []domain.DexPair) (domain.DexPair, bool) {
	var best domain.DexPair
	found := false

	for _, p := range pairs {
		price, err := strconv.ParseFloat(p.PriceUSD, 64)
		if err != nil || price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
			continue
		}
		if !found || p.LiquidityUSD > best.LiquidityUSD {
			best = p
			found = true
		}
	}
	return best, found
}

// httpQuoteFetcher hits the configured DEX-quote endpoint directly over
// HTTPS; there is no ecosystem SDK for this single GET-and-parse call, so
// it is a thin net/http client rather than a hand-rolled protocol.
type httpQuoteFetcher struct {
	baseURL string
	client  *http.Client
}

type dexScreenerResponse struct {
	Pairs []struct {
		PriceUSD  string `json:"priceUsd"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
	} `json:"pairs"`
}

func (f *httpQuoteFetcher) FetchPairs(ctx context.Context, mint string) ([]domain.DexPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+mint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var parsed dexScreenerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	pairs := make([]domain.DexPair, 0, len(parsed.Pairs))
	for _, p := range parsed.Pairs {
		pairs = append(pairs, domain.DexPair{PriceUSD: p.PriceUSD, LiquidityUSD: p.Liquidity.USD})
	}
	return pairs, nil
}
