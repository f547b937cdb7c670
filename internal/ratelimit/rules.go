package ratelimit

import (
	"net/netip"
	"strings"

	"github.com/Proton-105/coinwatch/pkg/config"
)

// Route names with their own limits.
const (
	RouteLogin  = "login"
	RouteClaim  = "claim"
	RouteSubmit = "submit"
)

// Rules encapsulates configured rate limits and helper methods.
type Rules struct {
	config  config.RateLimitConfig
	proxies []netip.Prefix
}

// NewRules constructs rate limiting rules from configuration settings.
// Unparsable trusted proxy entries are skipped.
func NewRules(cfg config.RateLimitConfig) *Rules {
	r := &Rules{config: cfg}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			r.proxies = append(r.proxies, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			r.proxies = append(r.proxies, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
		}
	}
	return r
}

// TrustsProxy reports whether ip belongs to a configured reverse proxy.
func (r *Rules) TrustsProxy(ip string) bool {
	if r == nil || len(r.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Enabled reports whether limits are enforced at all.
func (r *Rules) Enabled() bool {
	return r != nil && r.config.Enabled
}

// IsWhitelisted returns true if the userID bypasses rate limits.
func (r *Rules) IsWhitelisted(userID int64) bool {
	if userID == 0 {
		return false
	}
	for _, id := range r.config.Whitelist {
		if id == userID {
			return true
		}
	}
	return false
}

// RouteLimit returns the limit for a named route. ok is false for routes
// without a configured limit.
func (r *Rules) RouteLimit(route string) (config.LimitConfig, bool) {
	var rule config.LimitConfig
	switch route {
	case RouteLogin:
		rule = r.config.Routes.Login
	case RouteClaim:
		rule = r.config.Routes.Claim
	case RouteSubmit:
		rule = r.config.Routes.Submit
	}
	return rule, valid(rule)
}

// GlobalLimit returns the limit shared by all requests of one client.
func (r *Rules) GlobalLimit() (config.LimitConfig, bool) {
	return r.config.Global, valid(r.config.Global)
}

// PerUserLimit returns the limit across all routes for one signed-in user.
func (r *Rules) PerUserLimit() (config.LimitConfig, bool) {
	return r.config.PerUser, valid(r.config.PerUser)
}

func valid(rule config.LimitConfig) bool {
	return rule.Requests > 0 && rule.Window > 0
}
