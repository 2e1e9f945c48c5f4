package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind is the stable classification of a failed market-data read
type Kind int

const (
	KindUpstreamOther Kind = iota
	KindNotFound
	KindRateLimited
	KindUnavailable
	KindDependencyUnavailable
)

var kindNames = map[Kind]string{
	KindUpstreamOther:         "upstream_error",
	KindNotFound:              "not_found",
	KindRateLimited:           "rate_limited",
	KindUnavailable:           "unavailable",
	KindDependencyUnavailable: "dependency_unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// StatusCode is the HTTP status the boundary renders for the kind
func (k Kind) StatusCode() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable, KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Detail is the caller-facing message for the kind. It never contains upstream text.
func (k Kind) Detail() string {
	switch k {
	case KindNotFound:
		return "Symbol or market not found on the upstream exchange"
	case KindRateLimited:
		return "Upstream exchange rate limit exceeded, retry later"
	case KindUnavailable:
		return "Upstream exchange is unavailable, retry later"
	case KindDependencyUnavailable:
		return "Cache store is unavailable"
	default:
		return "Upstream exchange error"
	}
}

// Retryable reports whether a caller may retry after backing off
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindUnavailable || k == KindDependencyUnavailable
}

// Error is a classified failure returned by the cache layer
type Error struct {
	Kind   Kind
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Symbol, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Symbol, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification of err. Unclassified errors report false.
func KindOf(err error) (Kind, bool) {
	var mErr *Error
	if errors.As(err, &mErr) {
		return mErr.Kind, true
	}
	return KindUpstreamOther, false
}

type rule struct {
	kind     Kind
	patterns []string
}

// Rules are evaluated in order; the first matching pattern wins.
var classificationRules = []rule{
	{
		kind: KindNotFound,
		patterns: []string{
			"not supported",
			"unsupported symbol",
			"invalid symbol",
			"invalid currency pair",
			"symbol invalid",
			"symbol is invalid",
			"unknown symbol",
			"bad symbol",
			"symbol not found",
			"market not found",
			"does not exist",
			"doesn't exist",
			"not found",
		},
	},
	{
		kind: KindRateLimited,
		patterns: []string{
			"rate limit",
			"ratelimit",
			"too many requests",
			"too many visits",
			"throttl",
			"request weight",
		},
	},
	{
		kind: KindUnavailable,
		patterns: []string{
			"exchange is down",
			"service unavailable",
			"unavailable",
			"maintenance",
			"bad gateway",
			"gateway timeout",
			"timeout",
			"timed out",
			"connection refused",
			"connection reset",
			"no such host",
			"network",
			"unexpected eof",
		},
	},
}

// Classify maps raw upstream error text to a Kind by case-insensitive substring match
func Classify(message string) Kind {
	msg := strings.ToLower(message)
	for _, r := range classificationRules {
		for _, p := range r.patterns {
			if strings.Contains(msg, p) {
				return r.kind
			}
		}
	}
	return KindUpstreamOther
}

// ClassifyError classifies an upstream failure, recognising transport errors before message text
func ClassifyError(err error) Kind {
	if err == nil {
		return KindUpstreamOther
	}
	if kind, ok := KindOf(err); ok {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	return Classify(err.Error())
}
