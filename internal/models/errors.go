package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

// SendError is a classified failure produced at the gateway boundary. Internal
// logic inspects Reason only, never the raw transport error.
type SendError struct {
	Reason  FailureReason
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func NewSendError(reason FailureReason, format string, args ...interface{}) *SendError {
	return &SendError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ClassifyError maps an error from the uploader or sender onto the failure
// taxonomy. Already-classified errors pass through; everything else is a
// transport-level judgement call.
func ClassifyError(err error) (FailureReason, string) {
	if err == nil {
		return FailureReasonUnknown, ""
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Reason, sendErr.Message
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureReasonTimeout, err.Error()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureReasonTimeout, err.Error()
		}
		return FailureReasonNetwork, err.Error()
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return FailureReasonNetwork, msg
	}

	return FailureReasonUnknown, msg
}
