package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"wecodesec-tools/pkg/config"
	"wecodesec-tools/pkg/errutil"
	"wecodesec-tools/pkg/rediskey"
)

const (
	DefaultOffset = 1
	DefaultSize   = 10
)

// ListQuery filters the upstream ticket list. Empty strings are not sent.
type ListQuery struct {
	Offset  int
	Size    int
	Status  string
	Time    string
	Keyword string
}

func (q ListQuery) params() map[string]string {
	params := map[string]string{
		"offset": strconv.Itoa(q.Offset),
		"size":   strconv.Itoa(q.Size),
	}
	if q.Status != "" {
		params["status"] = q.Status
	}
	if q.Time != "" {
		params["time"] = q.Time
	}
	if q.Keyword != "" {
		params["keyword"] = q.Keyword
	}
	return params
}

// Proxy is a read-only view of the third-party ticketing system. Bodies are
// passed through untouched.
type Proxy interface {
	ListTickets(ctx context.Context, q ListQuery) (json.RawMessage, error)
	GetTicket(ctx context.Context, id string) (json.RawMessage, error)
}

type Client struct {
	http  *resty.Client
	cache *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

type ClientParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewClient(p ClientParams) Proxy {
	cfg := p.Config.ThirdPartyAPI
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		http:  httpClient,
		cache: p.Redis,
		ttl:   p.Config.Redis.TicketCacheTTL,
	}
}

func (c *Client) ListTickets(ctx context.Context, q ListQuery) (json.RawMessage, error) {
	body, err := c.fetch(ctx, "list", "/tickets", q.params())
	if err != nil {
		zap.L().Error("[Ticket] failed to fetch ticket list", zap.Int("offset", q.Offset), zap.Int("size", q.Size), zap.Error(err))
		return nil, errutil.UpstreamFailed("failed to fetch ticket list", err)
	}
	return body, nil
}

// GetTicket collapses concurrent lookups of the same id into one upstream
// call and serves from redis when a cache is configured.
func (c *Client) GetTicket(ctx context.Context, id string) (json.RawMessage, error) {
	if cached, ok := c.cached(ctx, id); ok {
		return cached, nil
	}

	// The flight outlives any one caller; the resty timeout bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		body, err := c.fetch(flightCtx, "detail", "/tickets/"+url.PathEscape(id), nil)
		if err != nil {
			return nil, err
		}
		c.store(flightCtx, id, body)
		return body, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		res.Err = ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		zap.L().Error("[Ticket] failed to fetch ticket detail", zap.String("ticket_id", id), zap.Error(res.Err))
		return nil, errutil.UpstreamFailed("failed to fetch ticket detail", res.Err)
	}
	if res.Shared {
		detailShared.Inc()
	}
	return res.Val.(json.RawMessage), nil
}

func (c *Client) fetch(ctx context.Context, op, path string, params map[string]string) (json.RawMessage, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		upstreamRequests.WithLabelValues(op, outcome).Inc()
		upstreamDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		zap.L().Warn("[Ticket] upstream returned non-200",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return nil, fmt.Errorf("unexpected upstream status %d", resp.StatusCode())
	}

	body := resp.Body()
	if !json.Valid(body) {
		return nil, errors.New("upstream returned invalid JSON")
	}

	outcome = "ok"
	return append(json.RawMessage(nil), body...), nil
}

func (c *Client) cached(ctx context.Context, id string) (json.RawMessage, bool) {
	if c.cache == nil || c.ttl <= 0 {
		return nil, false
	}

	b, err := c.cache.Get(ctx, rediskey.BuildTicketDetailKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	case err != nil:
		cacheLookups.WithLabelValues("error").Inc()
		zap.L().Warn("[Ticket] cache lookup failed", zap.String("ticket_id", id), zap.Error(err))
		return nil, false
	}

	cacheLookups.WithLabelValues("hit").Inc()
	return json.RawMessage(b), true
}

func (c *Client) store(ctx context.Context, id string, body json.RawMessage) {
	if c.cache == nil || c.ttl <= 0 {
		return
	}
	if err := c.cache.Set(ctx, rediskey.BuildTicketDetailKey(id), []byte(body), c.ttl).Err(); err != nil {
		zap.L().Warn("[Ticket] cache store failed", zap.String("ticket_id", id), zap.Error(err))
	}
}
