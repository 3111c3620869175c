package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/clinic-sync/internal/errs"
)

// ResponseError is a rejected call with its decoded error body.
type ResponseError struct {
	Code codes.Code
	Body ErrorResponse
	Raw  string // status message as received
}

func (e *ResponseError) Error() string {
	if msg := e.Body.FirstError(); msg != "" {
		return fmt.Sprintf("rpc %s: %s", e.Code, msg)
	}
	return fmt.Sprintf("rpc %s: %s", e.Code, e.Raw)
}

// ErrorStatus builds a status error whose message is a JSON ErrorResponse body.
func ErrorStatus(c codes.Code, messages ...string) error {
	b, err := json.Marshal(ErrorResponse{Errors: messages})
	if err != nil {
		return status.Error(c, fmt.Sprint(messages))
	}
	return status.Error(c, string(b))
}

// classify converts an error from conn.Invoke into an *errs.Error with a *ResponseError cause.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Network(err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return errs.Unexpected(err)
	}

	re := &ResponseError{Code: st.Code(), Raw: st.Message()}
	if err := json.Unmarshal([]byte(st.Message()), &re.Body); err != nil {
		re.Body = ErrorResponse{}
	}
	msg := re.Body.FirstError()
	if msg == "" {
		msg = st.Message()
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Aborted:
		return &errs.Error{Kind: errs.KindNetwork, Err: re}
	case codes.Unauthenticated:
		return &errs.Error{Kind: errs.KindAuth, Message: msg, Err: re}
	case codes.NotFound:
		return &errs.Error{Kind: errs.KindNotFound, Message: msg, Err: re}
	case codes.InvalidArgument, codes.FailedPrecondition, codes.AlreadyExists,
		codes.PermissionDenied, codes.ResourceExhausted, codes.OutOfRange:
		return &errs.Error{Kind: errs.KindServer, Message: msg, Err: re}
	default:
		return &errs.Error{Kind: errs.KindUnexpected, Message: msg, Err: re}
	}
}

// ErrorBody returns the structured error body carried by err, if any.
func ErrorBody(err error) (ErrorResponse, bool) {
	var re *ResponseError
	if errors.As(err, &re) && len(re.Body.Errors) > 0 {
		return re.Body, true
	}
	return ErrorResponse{}, false
}
