package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// rateLimitHints are fragments services put in quota errors that carry no
// structured status
var rateLimitHints = []string{
	"429",
	"quota",
	"resource_exhausted",
	"resource exhausted",
	"rate limit",
	"ratelimit",
	"too many requests",
}

// IsRetryable reports whether err is a transient failure: a rate limit,
// a 5xx from a Google API, or a network timeout. Context cancellation is
// never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind == RateLimited
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			return retryableHTTP(code)
		}
		if s := apiErr.GRPCStatus(); s != nil {
			return retryableGRPC(s.Code())
		}
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return retryableHTTP(gErr.Code)
	}

	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown && s.Code() != codes.OK {
		return retryableGRPC(s.Code())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	return IsRateLimit(err)
}

// IsRateLimit reports whether the error text looks like a quota or rate
// limit rejection
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) && se.Kind == RateLimited {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range rateLimitHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func retryableHTTP(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func retryableGRPC(code codes.Code) bool {
	switch code {
	case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
