package errutil

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"
)

// ErrorDomain tags the ErrorInfo attached to gRPC errors.
const ErrorDomain = "bizops-incentives"

// DetailRetryAt carries the RFC 3339 time a throttled caller may retry at.
const DetailRetryAt = "retry_at"

// RetryAt records when a rejected request may be retried. gRPC callers get it
// back as RetryInfo.
func RetryAt(t time.Time) Option {
	return WithDetail(DetailRetryAt, t.UTC().Format(time.RFC3339))
}

// ToGRPCError converts err to a status error. Errors built by this package
// keep their message and details as an ErrorInfo; the wrapped cause stays
// server side.
func ToGRPCError(err error) error {
	return toGRPCError(err, time.Now())
}

func toGRPCError(err error, now time.Time) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var base BaseError
	if !errors.As(err, &base) {
		return status.Error(codes.Internal, "internal error")
	}

	st := status.New(base.Code.GRPCCode(), base.Message)
	info := &errdetails.ErrorInfo{
		Reason: strings.ToUpper(string(base.Code)),
		Domain: ErrorDomain,
	}
	if len(base.Details) > 0 {
		info.Metadata = make(map[string]string, len(base.Details))
		for _, d := range base.Details {
			info.Metadata[d.Field] = d.Message
		}
	}
	extra := []protoadapt.MessageV1{info}
	if delay, ok := retryDelay(base.Details, now); ok {
		extra = append(extra, &errdetails.RetryInfo{RetryDelay: durationpb.New(delay)})
	}

	withDetails, derr := st.WithDetails(extra...)
	if derr != nil {
		return st.Err()
	}
	return withDetails.Err()
}

func retryDelay(details []Detail, now time.Time) (time.Duration, bool) {
	for _, d := range details {
		if d.Field != DetailRetryAt {
			continue
		}
		at, err := time.Parse(time.RFC3339, d.Message)
		if err != nil {
			return 0, false
		}
		if delay := at.Sub(now); delay > 0 {
			return delay, true
		}
		return 0, true
	}
	return 0, false
}
