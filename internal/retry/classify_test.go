package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ = DescribeTable("IsRetryable",
	func(err error, expected bool) {
		Expect(IsRetryable(err)).To(Equal(expected))
	},
	Entry("nil", nil, false),
	Entry("plain error", errors.New("invalid image"), false),
	Entry("quota text", errors.New("You exceeded your current quota"), true),
	Entry("429 text", errors.New("HTTP 429"), true),
	Entry("resource exhausted text", errors.New("rpc error: RESOURCE_EXHAUSTED"), true),
	Entry("googleapi 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true),
	Entry("googleapi 503", &googleapi.Error{Code: http.StatusServiceUnavailable}, true),
	Entry("googleapi 400", &googleapi.Error{Code: http.StatusBadRequest, Message: "bad range"}, false),
	Entry("grpc resource exhausted", status.Error(codes.ResourceExhausted, "slow down"), true),
	Entry("grpc unavailable", status.Error(codes.Unavailable, "try later"), true),
	Entry("grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), false),
	Entry("network timeout", fmt.Errorf("calling: %w", timeoutError{}), true),
	Entry("connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true),
	Entry("context cancelled", context.Canceled, false),
	Entry("typed rate limit", NewRateLimited(errors.New("busy")), true),
	Entry("exhausted service error", &ServiceError{Kind: Exhausted, Err: errors.New("429")}, false),
)
