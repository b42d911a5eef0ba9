package aws

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/yairfalse/fundeploy/types"
)

// Error codes that mean "try again later" regardless of service.
var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
	"RequestThrottled":                       true,
	"SlowDown":                               true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalError":                          true,
	"InternalFailure":                        true,
	"InternalServerError":                    true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"ConcurrentModificationException":        true,
	"OperationAbortedException":              true,
	// Lambda rejects updates while a previous one is still in progress.
	"ResourceConflictException": true,
}

// classify wraps an SDK error as transient or permanent
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return types.Transient(op, err)
		}
		// IAM is eventually consistent; a fresh role cannot be assumed for a few seconds.
		if apiErr.ErrorCode() == "InvalidParameterValueException" &&
			strings.Contains(apiErr.ErrorMessage(), "cannot be assumed") {
			return types.Transient(op, err)
		}
		return types.Permanent(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.Transient(op, err)
	}
	return types.Permanent(op, err)
}

// hasCode reports whether err is an API error with one of the given codes
func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
