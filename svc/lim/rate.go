package lim

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"slugbin/cfg"
	"slugbin/metrics"
	"slugbin/svc/util"
)

const (
	ScopeAddress = "address"
	ScopeGlobal  = "global"
)

type window struct {
	count int
	reset time.Time
}

// Limiter is a fixed-window counter per caller address. The table is an LRU
// so a flood of distinct addresses evicts the least recent ones instead of
// growing without bound. An optional token bucket caps the whole process.
type Limiter struct {
	mu             sync.Mutex
	windows        *lru.Cache[string, window]
	limit          int
	window         time.Duration
	global         *rate.Limiter
	trustedProxies []string
	now            func() time.Time
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	Scope     string
}

func New(c cfg.RateLimitCfg, trustedProxies []string) (*Limiter, error) {
	if c.Requests <= 0 || c.Window <= 0 {
		return nil, errors.New("rate limit requests and window must be positive")
	}
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return nil, errors.Wrapf(err, "invalid CIDR in trustedProxies: %s", proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			return nil, errors.Errorf("invalid IP in trustedProxies: %s", proxy)
		}
	}
	size := c.MaxKeys
	if size <= 0 {
		size = 10000
	}
	windows, err := lru.New[string, window](size)
	if err != nil {
		return nil, errors.Wrap(err, "create limiter table")
	}
	l := &Limiter{
		windows:        windows,
		limit:          c.Requests,
		window:         c.Window,
		trustedProxies: trustedProxies,
		now:            time.Now,
	}
	if c.GlobalRPS > 0 {
		l.global = rate.NewLimiter(rate.Limit(c.GlobalRPS), c.GlobalBurst)
	}
	return l, nil
}

// SetClock replaces the time source. Tests only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Allow counts one request against key. The first request, or the first after
// the window has elapsed, opens a new window with count 1; once count reaches
// the limit further requests are refused until the window resets.
func (l *Limiter) Allow(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.global != nil && !l.global.AllowN(now, 1) {
		return Result{Limit: l.limit, Reset: now.Add(time.Second), Scope: ScopeGlobal}
	}
	w, ok := l.windows.Get(key)
	if !ok || !now.Before(w.reset) {
		w = window{count: 1, reset: now.Add(l.window)}
		l.windows.Add(key, w)
		metrics.RateLimitKeys.Set(float64(l.windows.Len()))
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit - 1, Reset: w.reset, Scope: ScopeAddress}
	}
	if w.count >= l.limit {
		return Result{Limit: l.limit, Reset: w.reset, Scope: ScopeAddress}
	}
	w.count++
	l.windows.Add(key, w)
	return Result{Allowed: true, Limit: l.limit, Remaining: l.limit - w.count, Reset: w.reset, Scope: ScopeAddress}
}

// CheckRequest keys the request by caller address.
func (l *Limiter) CheckRequest(r *http.Request) Result {
	return l.Allow(GetRealIP(r, l.trustedProxies))
}

// Now reports the limiter's clock so callers can compute Retry-After
// consistently with Reset.
func (l *Limiter) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now()
}

// Tracked returns the number of addresses currently held in the table.
func (l *Limiter) Tracked() int {
	return l.windows.Len()
}

// GetRealIP returns the caller address. X-Forwarded-For is honoured only when
// the direct peer is a trusted proxy, walking right to left to the first
// untrusted hop.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 {
		return remoteIP
	}
	if !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	const maxIPsToParse = 100
	parsedCount := 0
	remaining := xff
	for len(remaining) > 0 && parsedCount < maxIPsToParse {
		lastComma := strings.LastIndexByte(remaining, ',')
		var ipStr string
		if lastComma == -1 {
			ipStr = strings.TrimSpace(remaining)
			remaining = ""
		} else {
			ipStr = strings.TrimSpace(remaining[lastComma+1:])
			remaining = remaining[:lastComma]
		}
		if ipStr == "" {
			continue
		}
		parsedCount++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", util.RedactIP(ipStr)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	if parsedCount >= maxIPsToParse {
		util.Warn().Int("parsed", parsedCount).Str("remote", util.RedactIP(remoteIP)).Msg("XFF header excessive, truncated parsing")
	}
	return remoteIP
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") {
			_, subnet, err := net.ParseCIDR(proxy)
			if err == nil {
				parsedIP := net.ParseIP(ip)
				if parsedIP != nil && subnet.Contains(parsedIP) {
					return true
				}
			}
		}
	}
	return false
}

func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
