package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"chart_feed/internal/models"
	"chart_feed/internal/modules/config"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	fetchAttempts = 4
	baseBackoff   = 500 * time.Millisecond
	maxBackoff    = 5 * time.Second
)

// Client — тонкий REST-клиент исторических свечей.
type Client struct {
	cfg  *config.Config
	http *http.Client

	// тюнинг под тесты
	attempts int
	backoff  time.Duration
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: 10 * time.Second},
		attempts: fetchAttempts,
		backoff:  baseBackoff,
	}
}

type ohlcvResponse struct {
	OHLCVs   []models.Candle `json:"ohlcvs"`
	PriceUSD string          `json:"priceUSD"`
}

// Fetch тянет серию с ретраями: экспоненциальный бэкофф с потолком,
// ограниченное число попыток.
func (c *Client) Fetch(ctx context.Context, address string, tf models.Timeframe) (models.CandleSeries, decimal.Decimal, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "history.fetch")
	defer span.Finish()
	span.SetTag("address", address)
	span.SetTag("timeframe", string(tf))

	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, decimal.Decimal{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		series, price, err := c.fetchOnce(ctx, address, tf)
		if err == nil {
			return series, price, nil
		}
		lastErr = err
		log.Printf("[HIST] fetch %s %s attempt %d/%d: %v", address, tf, attempt, c.attempts, err)
	}
	return nil, decimal.Decimal{}, errors.Wrapf(lastErr, "history fetch %s %s", address, tf)
}

func (c *Client) fetchOnce(ctx context.Context, address string, tf models.Timeframe) (models.CandleSeries, decimal.Decimal, error) {
	var zero decimal.Decimal

	u := fmt.Sprintf("%s/api/v1/ohlcv?address=%s&timeframe=%s",
		c.cfg.Market.HistoryURL, url.QueryEscape(address), tf)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, zero, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, zero, err
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, zero, fmt.Errorf("http %d: %s", resp.StatusCode, string(rb))
	}

	var out ohlcvResponse
	if err := sonic.Unmarshal(rb, &out); err != nil {
		return nil, zero, errors.Wrap(err, "history: decode")
	}

	series := models.CandleSeries(out.OHLCVs)
	// контракт оконного алгоритма: серия приходит от новых к старым,
	// проверяем на границе фетча, а не внутри окна
	if !series.SortedDesc() {
		return nil, zero, errors.New("history: series is not sorted newest-first")
	}

	price := zero
	if out.PriceUSD != "" {
		price, err = decimal.NewFromString(out.PriceUSD)
		if err != nil {
			return nil, zero, errors.Wrapf(err, "history: bad priceUSD %q", out.PriceUSD)
		}
	}
	return series, price, nil
}
