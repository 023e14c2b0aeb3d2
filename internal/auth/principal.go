package auth

import "context"

type Kind string

const (
	KindAnonymous Kind = "anonymous"
	KindUser      Kind = "user"
	KindBus       Kind = "bus"
	KindScheduler Kind = "scheduler"
)

// Principal is the identity an operation runs as.
type Principal struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// OnBehalfOf is the end user a synthetic principal acts for, if any.
	OnBehalfOf string `json:"on_behalf_of,omitempty"`
}

var (
	Anonymous = Principal{Kind: KindAnonymous}
	Scheduler = Principal{Name: "scheduler", Kind: KindScheduler}
)

// Bus returns the synthetic principal used for message-bus requests.
func Bus(user string) Principal {
	return Principal{Name: "bus", Kind: KindBus, OnBehalfOf: user}
}

func (p Principal) Authenticated() bool {
	return p.Kind != KindAnonymous && p.Kind != ""
}

// Identity is the name used for auditing and per-user delivery.
func (p Principal) Identity() string {
	if p.OnBehalfOf != "" {
		return p.OnBehalfOf
	}
	return p.Name
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or Anonymous.
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Anonymous
}
