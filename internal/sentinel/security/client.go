package security

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/pkg/utils"
	"dex-pool-sentinel/internal/sentinel/types"
	"errors"
	"fmt"
	"github.com/sony/gobreaker"
	"github.com/zeromicro/go-zero/core/collection"
	"golang.org/x/time/rate"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

var (
	ErrNoEndpoint   = errors.New("security: no audit endpoint available")
	ErrCircuitOpen  = errors.New("security: audit circuit open")
	ErrTokenUnknown = errors.New("security: token not found")
)

// Resolver 返回审计服务的 base URL，静态地址或 Nacos 发现
type Resolver interface {
	BaseURL() (string, error)
}

// StaticResolver 固定地址
type StaticResolver string

func (s StaticResolver) BaseURL() (string, error) {
	if s == "" {
		return "", ErrNoEndpoint
	}
	return strings.TrimRight(string(s), "/"), nil
}

// Config 审计客户端配置
type Config struct {
	Timeout          time.Duration
	Retry            retry.Policy
	CacheTTL         time.Duration
	CacheLimit       int
	RPS              float64
	TripAfter        uint32        // 连续失败多少次熔断
	OpenFor          time.Duration // 熔断后多久进入半开
	FailureRatio     float64       // 请求数达到 MinRequests 后失败率超过该值也熔断
	MinRequests      uint32
	BreakerInterval  time.Duration // 统计窗口
	MaxResponseBytes int64
}

func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		Retry:            retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 4 * time.Second},
		CacheTTL:         30 * time.Minute,
		CacheLimit:       10_000,
		RPS:              5,
		TripAfter:        5,
		OpenFor:          5 * time.Minute,
		FailureRatio:     0.5,
		MinRequests:      10,
		BreakerInterval:  time.Minute,
		MaxResponseBytes: 1 << 20,
	}
}

// response 审计服务统一返回格式
type response struct {
	Code int                   `json:"code"`
	Msg  string                `json:"msg"`
	Data *types.SecurityReport `json:"data"`
}

// Client 外部安全审计 HTTP 客户端：限速 -> 熔断 -> 重试 -> 超时，成功结果按 TTL 缓存
type Client struct {
	cfg      Config
	resolver Resolver
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	cache    *collection.Cache

	lastRetryLog atomic.Int64
}

func NewClient(cfg Config, resolver Resolver, hc *http.Client) (*Client, error) {
	if resolver == nil {
		return nil, ErrNoEndpoint
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheLimit <= 0 {
		cfg.CacheLimit = def.CacheLimit
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = def.TripAfter
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = def.OpenFor
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = def.MaxResponseBytes
	}
	if hc == nil {
		hc = &http.Client{}
	}

	cache, err := collection.NewCache(cfg.CacheTTL, collection.WithLimit(cfg.CacheLimit), collection.WithName("security-audit"))
	if err != nil {
		return nil, fmt.Errorf("create audit cache failed: %w", err)
	}

	limit := rate.Inf
	burst := 1
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		burst = max(1, int(cfg.RPS))
	}

	c := &Client{
		cfg:      cfg,
		resolver: resolver,
		http:     hc,
		limiter:  rate.NewLimiter(limit, burst),
		cache:    cache,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "security-audit",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.TripAfter {
				return true
			}
			if cfg.FailureRatio <= 0 || counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > cfg.FailureRatio
		},
		// 代币不存在不算服务故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrTokenUnknown)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("[SecurityAudit] circuit %s: %s -> %s", name, from, to)
		},
	})
	return c, nil
}

func cacheKey(chain types.ChainID, token string) string {
	return string(chain) + ":" + strings.ToLower(token)
}

// Audit 实现 chain.SecurityAuditor
func (c *Client) Audit(ctx context.Context, chain types.ChainID, token string) (*types.SecurityReport, error) {
	if token == "" {
		return nil, retry.Permanent(errors.New("security: empty token address"))
	}
	key := cacheKey(chain, token)
	if v, ok := c.cache.Get(key); ok {
		return cloneReport(v.(*types.SecurityReport)), nil
	}

	report, err := retry.DoValueNotify(ctx, c.cfg.Retry, func(ctx context.Context) (*types.SecurityReport, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		v, err := c.breaker.Execute(func() (any, error) {
			return c.fetch(ctx, chain, token)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, retry.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
		case err != nil:
			return nil, err
		}
		return v.(*types.SecurityReport), nil
	}, func(err error, wait time.Duration) {
		if utils.ThrottleLog(&c.lastRetryLog, 10*time.Second) {
			logger.Warnf("[SecurityAudit:%s] audit %s failed, retry in %v: %v", chain, token, wait, err)
		}
	})
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, report)
	return cloneReport(report), nil
}

// State 熔断器当前状态
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) fetch(ctx context.Context, chain types.ChainID, token string) (*types.SecurityReport, error) {
	base, err := c.resolver.BaseURL()
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("chain", string(chain))
	q.Set("address", token)
	endpoint := base + "/api/v1/token_security?" + q.Encode()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(ErrTokenUnknown)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("security: upstream status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Permanent(fmt.Errorf("security: unexpected status %d", resp.StatusCode))
	}

	var r response
	if err := utils.SafeJsonUnmarshal(body, &r); err != nil {
		return nil, retry.Permanent(fmt.Errorf("security: decode response failed: %w", err))
	}
	if r.Code != 0 {
		return nil, fmt.Errorf("security: service error %d: %s", r.Code, r.Msg)
	}
	if r.Data == nil {
		return nil, retry.Permanent(ErrTokenUnknown)
	}
	return normalize(r.Data), nil
}

// normalize 服务端缺省字段补齐，风险分与等级保持一致
func normalize(r *types.SecurityReport) *types.SecurityReport {
	r.RiskScore = utils.Clamp(r.RiskScore, 0, 100)
	if r.RiskLevel == "" {
		switch {
		case r.RiskScore <= 30:
			r.RiskLevel = types.RiskLow
		case r.RiskScore <= 60:
			r.RiskLevel = types.RiskMedium
		default:
			r.RiskLevel = types.RiskHigh
		}
	}
	if len(r.Risks) > 5 {
		r.Risks = r.Risks[:5]
	}
	return r
}

func cloneReport(r *types.SecurityReport) *types.SecurityReport {
	cp := *r
	cp.Risks = append([]string(nil), r.Risks...)
	return &cp
}
