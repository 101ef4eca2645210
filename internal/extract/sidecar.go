package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mkoehler/epex-archive/internal/model"
)

const (
	defaultTimeout    = 90 * time.Second
	defaultMaxRetries = 3

	// reconnectBase is the wait before the first redial; it doubles per
	// attempt.
	reconnectBase = 2 * time.Second
)

// RemoteError is a failure reported by the sidecar itself, e.g. the page
// did not render or the table was missing. It is not retried within a
// single Fetch call; the caller's ledger handles cross-run retries.
type RemoteError struct {
	Key     model.ObservationKey
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("sidecar: %s: %s", e.Key, e.Message)
}

// SidecarClient fetches observation batches from the browser-automation
// sidecar over WebSocket. Each Fetch opens a fresh connection; the sidecar
// holds browser state, the client holds none.
type SidecarClient struct {
	url        string
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
	dialer     *websocket.Dialer
}

// SidecarOption customizes a SidecarClient.
type SidecarOption func(*SidecarClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) SidecarOption {
	return func(c *SidecarClient) { c.timeout = d }
}

// WithRetries sets how many times a failed dial or exchange is retried
// within one Fetch call.
func WithRetries(n int) SidecarOption {
	return func(c *SidecarClient) { c.maxRetries = n }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) SidecarOption {
	return func(c *SidecarClient) { c.logger = logger }
}

// NewSidecarClient creates a client for the sidecar at url.
func NewSidecarClient(url string, opts ...SidecarOption) *SidecarClient {
	c := &SidecarClient{
		url:        url,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		logger:     slog.Default(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wireRequest struct {
	RequestID    string `json:"request_id"`
	MarketArea   string `json:"market_area"`
	ProductType  string `json:"product_type"`
	TradingDate  string `json:"trading_date"`
	DeliveryDate string `json:"delivery_date"`
	SubSegment   string `json:"sub_segment"`
}

type wireContinuous struct {
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Last      float64 `json:"last"`
	WeightAvg float64 `json:"weight_avg"`
	IDFull    float64 `json:"id_full"`
	ID1       float64 `json:"id1"`
	ID3       float64 `json:"id3"`
}

type wireRow struct {
	Period     string          `json:"period"`
	Side       string          `json:"side,omitempty"`
	Price      float64         `json:"price"`
	Volume     float64         `json:"volume"`
	BuyVolume  float64         `json:"buy_volume"`
	SellVolume float64         `json:"sell_volume"`
	Continuous *wireContinuous `json:"continuous,omitempty"`
}

type wireResponse struct {
	RequestID  string    `json:"request_id"`
	LastUpdate string    `json:"last_update"`
	Rows       []wireRow `json:"rows"`
	Baseload   *float64  `json:"baseload"`
	Peakload   *float64  `json:"peakload"`
	Error      string    `json:"error"`
}

// Fetch implements Extractor. Dial or exchange failures are retried up to
// the configured limit with doubling waits; errors reported by the sidecar
// are returned as *RemoteError without further attempts.
func (c *SidecarClient) Fetch(ctx context.Context, key model.ObservationKey) (*model.Batch, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := reconnectBase << (attempt - 1)
			c.logger.Debug("retrying sidecar fetch",
				"key", key.String(),
				"attempt", attempt,
				"wait", wait,
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		batch, err := c.exchange(ctx, key)
		if err == nil {
			return batch, nil
		}
		var remote *RemoteError
		if errors.As(err, &remote) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch %s: %w", key, lastErr)
}

// exchange performs one request/response round trip on a fresh connection.
func (c *SidecarClient) exchange(ctx context.Context, key model.ObservationKey) (*model.Batch, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial sidecar: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	req := wireRequest{
		RequestID:    uuid.New().String(),
		MarketArea:   key.MarketArea,
		ProductType:  string(key.Product),
		TradingDate:  key.TradingDate.Format(model.DateFormat),
		DeliveryDate: key.DeliveryDate.Format(model.DateFormat),
		SubSegment:   key.SubSegment,
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	// The connection is per-request, but skip any stray frames with a
	// different request ID rather than failing on them.
	var resp wireResponse
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if resp.RequestID == req.RequestID {
			break
		}
		c.logger.Warn("discarding mismatched sidecar frame",
			"want", req.RequestID,
			"got", resp.RequestID,
		)
	}

	if resp.Error != "" {
		return nil, &RemoteError{Key: key, Message: resp.Error}
	}
	return toBatch(key, resp), nil
}

func toBatch(key model.ObservationKey, resp wireResponse) *model.Batch {
	batch := &model.Batch{
		Key:        key,
		LastUpdate: resp.LastUpdate,
		Rows:       make([]model.Observation, len(resp.Rows)),
	}
	for i, row := range resp.Rows {
		obs := model.Observation{
			Period:     row.Period,
			Side:       row.Side,
			Price:      row.Price,
			Volume:     row.Volume,
			BuyVolume:  row.BuyVolume,
			SellVolume: row.SellVolume,
		}
		if row.Continuous != nil {
			obs.Continuous = &model.ContinuousStats{
				Low:       row.Continuous.Low,
				High:      row.Continuous.High,
				Last:      row.Continuous.Last,
				WeightAvg: row.Continuous.WeightAvg,
				IDFull:    row.Continuous.IDFull,
				ID1:       row.Continuous.ID1,
				ID3:       row.Continuous.ID3,
			}
		}
		batch.Rows[i] = obs
	}
	if resp.Baseload != nil && resp.Peakload != nil {
		batch.Baseload = *resp.Baseload
		batch.Peakload = *resp.Peakload
		batch.HasBasePeak = true
	}
	return batch
}
