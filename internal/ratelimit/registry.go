package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultKey           = "DEFAULT"
	DefaultTier          = "L1"
	DefaultWindowSeconds = 60
	DefaultMaxRequests   = 20

	tierEnvPrefix   = "API_RATE_LIMITER_L"
	customEnvPrefix = "API_RATE_LIMITER_CUSTOM_"
	maxTiers        = 9
	maxCustomRules  = 99
)

var ErrInvalidRule = errors.New("invalid rate limiter rule")

// Window is one rate limiter configuration: at most MaxRequests per Seconds.
type Window struct {
	Key         string `json:"key"`
	Seconds     int    `json:"window_seconds"`
	MaxRequests int    `json:"max_requests"`
}

func (w Window) Duration() time.Duration {
	return time.Duration(w.Seconds) * time.Second
}

func DefaultWindow() Window {
	return Window{Key: DefaultKey, Seconds: DefaultWindowSeconds, MaxRequests: DefaultMaxRequests}
}

// CustomKey is the key of a per-route override.
func CustomKey(tag, route string) string {
	return fmt.Sprintf("CUS_%s_%s", tag, route)
}

// Registry holds the tier and per-route windows. It is filled at boot and read afterwards.
type Registry struct {
	mu     sync.RWMutex
	tiers  map[string]Window
	custom map[string]Window
}

func NewRegistry() *Registry {
	return &Registry{
		tiers:  make(map[string]Window),
		custom: make(map[string]Window),
	}
}

// LoadRegistry reads API_RATE_LIMITER_L1..L9 and API_RATE_LIMITER_CUSTOM_1..99. Each scan
// stops at the first missing key; malformed entries are skipped.
func LoadRegistry(lookup func(string) (string, bool)) *Registry {
	r := NewRegistry()

	for i := 1; i <= maxTiers; i++ {
		value, ok := lookup(fmt.Sprintf("%s%d", tierEnvPrefix, i))
		if !ok {
			break
		}
		seconds, requests, err := ParseTierRule(value)
		if err != nil {
			continue
		}
		r.SetTier(fmt.Sprintf("L%d", i), seconds, requests)
	}

	for i := 1; i <= maxCustomRules; i++ {
		value, ok := lookup(fmt.Sprintf("%s%d", customEnvPrefix, i))
		if !ok {
			break
		}
		tag, route, seconds, requests, err := ParseCustomRule(value)
		if err != nil {
			continue
		}
		r.SetCustom(tag, route, seconds, requests)
	}

	return r
}

// ParseTierRule parses "<seconds>:<requests>".
func ParseTierRule(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, errors.Wrapf(ErrInvalidRule, "%q", value)
	}
	return parseLimits(parts[0], parts[1])
}

// ParseCustomRule parses "<tag>:<route>:<seconds>:<requests>". The route may itself
// contain colons (path parameters), so the numbers are taken from the right.
func ParseCustomRule(value string) (string, string, int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 4 {
		return "", "", 0, 0, errors.Wrapf(ErrInvalidRule, "%q", value)
	}

	n := len(parts)
	tag := strings.TrimSpace(parts[0])
	route := strings.TrimSpace(strings.Join(parts[1:n-2], ":"))
	if tag == "" || route == "" {
		return "", "", 0, 0, errors.Wrapf(ErrInvalidRule, "%q", value)
	}

	seconds, requests, err := parseLimits(parts[n-2], parts[n-1])
	if err != nil {
		return "", "", 0, 0, err
	}
	return tag, route, seconds, requests, nil
}

func parseLimits(secondsStr, requestsStr string) (int, int, error) {
	seconds, err := strconv.Atoi(strings.TrimSpace(secondsStr))
	if err != nil || seconds <= 0 {
		return 0, 0, errors.Wrapf(ErrInvalidRule, "seconds %q", secondsStr)
	}
	requests, err := strconv.Atoi(strings.TrimSpace(requestsStr))
	if err != nil || requests <= 0 {
		return 0, 0, errors.Wrapf(ErrInvalidRule, "requests %q", requestsStr)
	}
	return seconds, requests, nil
}

func (r *Registry) SetTier(name string, seconds, requests int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[name] = Window{Key: name, Seconds: seconds, MaxRequests: requests}
}

func (r *Registry) SetCustom(tag, route string, seconds, requests int) {
	key := CustomKey(tag, route)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[key] = Window{Key: key, Seconds: seconds, MaxRequests: requests}
}

// Resolve picks the custom window for (tag, route), then the named tier, then DefaultTier,
// then the hardcoded 60s/20 window.
func (r *Registry) Resolve(tag, route, tier string) Window {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if w, ok := r.custom[CustomKey(tag, route)]; ok {
		return w
	}
	if tier == "" {
		tier = DefaultTier
	}
	if w, ok := r.tiers[tier]; ok {
		return w
	}
	if w, ok := r.tiers[DefaultTier]; ok {
		return w
	}
	return DefaultWindow()
}

// Tiers returns a copy of the configured tiers.
func (r *Registry) Tiers() map[string]Window {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Window, len(r.tiers))
	for k, v := range r.tiers {
		out[k] = v
	}
	return out
}

// CustomRules returns a copy of the per-route overrides.
func (r *Registry) CustomRules() map[string]Window {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Window, len(r.custom))
	for k, v := range r.custom {
		out[k] = v
	}
	return out
}
