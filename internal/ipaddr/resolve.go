package ipaddr

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ResolutionError reports a lookup that produced no record.
type ResolutionError struct {
	Target string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no record for %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("no record for %s", e.Target)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Lookuper is the subset of *net.Resolver used for resolution.
type Lookuper interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Resolver performs reverse lookups for literal addresses and forward lookups
// for names. Successful answers are cached; misses are not.
type Resolver struct {
	lookup  Lookuper
	cache   *expirable.LRU[string, string]
	timeout time.Duration
}

// NewResolver creates a resolver backed by lookup, or net.DefaultResolver when nil.
func NewResolver(lookup Lookuper, cacheSize int, ttl, timeout time.Duration) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &Resolver{
		lookup:  lookup,
		cache:   expirable.NewLRU[string, string](cacheSize, nil, ttl),
		timeout: timeout,
	}
}

// Resolve returns the reverse-DNS name of a literal address or the first IPv4
// address of a name.
func (r *Resolver) Resolve(ctx context.Context, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", &FormatError{Input: target, Reason: "empty"}
	}
	if v, ok := r.cache.Get(target); ok {
		return v, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var answer string
	if net.ParseIP(target) != nil {
		names, err := r.lookup.LookupAddr(ctx, target)
		if err != nil || len(names) == 0 {
			return "", &ResolutionError{Target: target, Err: err}
		}
		answer = strings.TrimSuffix(names[0], ".")
	} else {
		addrs, err := r.lookup.LookupIPAddr(ctx, target)
		if err != nil {
			return "", &ResolutionError{Target: target, Err: err}
		}
		for _, a := range addrs {
			if v4 := a.IP.To4(); v4 != nil {
				answer = v4.String()
				break
			}
		}
		if answer == "" {
			return "", &ResolutionError{Target: target}
		}
	}

	r.cache.Add(target, answer)
	return answer, nil
}
