package errutil

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errSentinel = errors.New("insufficient funds")

func TestConstructorsWrapCause(t *testing.T) {
	err := UnprocessableEntity("treasury reserve too low", errSentinel)

	require.ErrorIs(t, err, errSentinel)
	require.Equal(t, StatusUnprocessableEntity, StatusOf(err))
	require.Contains(t, err.Error(), "insufficient funds")

	body := err.(BaseError).JSON().(map[string]interface{})["error"].(map[string]interface{})
	require.Equal(t, "treasury reserve too low", body["message"])
}

func TestStatusOfPlainError(t *testing.T) {
	require.Equal(t, StatusInternal, StatusOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[CoreStatus]int{
		StatusBadRequest:          http.StatusBadRequest,
		StatusValidationFailed:    http.StatusBadRequest,
		StatusNotFound:            http.StatusNotFound,
		StatusConflict:            http.StatusConflict,
		StatusUnprocessableEntity: http.StatusUnprocessableEntity,
		StatusTooManyRequests:     http.StatusTooManyRequests,
		StatusForbidden:           http.StatusForbidden,
		StatusBadGateway:          http.StatusBadGateway,
		StatusClientClosedRequest: 499,
		StatusUnknown:             http.StatusInternalServerError,
	}

	for s, want := range cases {
		require.Equal(t, want, s.HTTPStatus(), s)
	}
}

func TestToGRPCError(t *testing.T) {
	require.NoError(t, ToGRPCError(nil))

	st, ok := status.FromError(ToGRPCError(Conflict("treasury account changed concurrently, retry", nil)))
	require.True(t, ok)
	require.Equal(t, codes.Aborted, st.Code())

	st, _ = status.FromError(ToGRPCError(context.DeadlineExceeded))
	require.Equal(t, codes.DeadlineExceeded, st.Code())

	st, _ = status.FromError(ToGRPCError(errors.New("dial tcp 10.0.0.5:5432: connection refused")))
	require.Equal(t, codes.Internal, st.Code())
	require.Equal(t, "internal error", st.Message())
}

func TestToGRPCErrorCarriesDetails(t *testing.T) {
	err := UnprocessableEntity("treasury reserve too low", errSentinel,
		WithDetail("token_reserve", "12.50000000"))

	st, ok := status.FromError(ToGRPCError(err))
	require.True(t, ok)
	require.Equal(t, codes.FailedPrecondition, st.Code())
	require.Equal(t, "treasury reserve too low", st.Message())

	require.Len(t, st.Details(), 1)
	info, ok := st.Details()[0].(*errdetails.ErrorInfo)
	require.True(t, ok)
	require.Equal(t, "UNPROCESSABLE_ENTITY", info.Reason)
	require.Equal(t, ErrorDomain, info.Domain)
	require.Equal(t, "12.50000000", info.Metadata["token_reserve"])
}

func TestToGRPCErrorRetryInfo(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	err := TooManyRequest("faucet cooldown has not elapsed", nil, RetryAt(now.Add(90*time.Second)))

	st, _ := status.FromError(toGRPCError(err, now))
	require.Equal(t, codes.ResourceExhausted, st.Code())
	require.Len(t, st.Details(), 2)

	retry, ok := st.Details()[1].(*errdetails.RetryInfo)
	require.True(t, ok)
	require.Equal(t, 90*time.Second, retry.RetryDelay.AsDuration())
}

func TestGRPCCode(t *testing.T) {
	cases := map[CoreStatus]codes.Code{
		StatusBadRequest:          codes.InvalidArgument,
		StatusNotFound:            codes.NotFound,
		StatusConflict:            codes.Aborted,
		StatusUnprocessableEntity: codes.FailedPrecondition,
		StatusTooManyRequests:     codes.ResourceExhausted,
		StatusServiceUnavailable:  codes.Unavailable,
		StatusUnknown:             codes.Unknown,
	}

	for s, want := range cases {
		require.Equal(t, want, s.GRPCCode(), s)
	}
}

func TestURL(t *testing.T) {
	err := BadRequest("invalid amount", nil, WithDetail("amount", "must be positive")).(BaseError)
	require.Equal(t, "details%5Bamount%5D=must+be+positive&error_code=bad_request&error_message=invalid+amount", err.URL())
}
