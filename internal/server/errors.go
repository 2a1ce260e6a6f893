package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/glinharesb/sekeys/internal/algorithm"
	"github.com/glinharesb/sekeys/internal/audit"
	"github.com/glinharesb/sekeys/internal/element"
	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/keystore"
	"github.com/glinharesb/sekeys/internal/policy"
)

var errNoKey = errors.New("server: no key in slot")

// toStatus maps domain errors onto gRPC status codes. Errors that already
// carry a status pass through unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var fault *hsm.HardwareFault
	switch {
	case errors.As(err, &fault):
		return status.Errorf(codes.Unavailable, "hardware fault %s: %v", fault.Code, err)
	case errors.Is(err, errNoKey), errors.Is(err, keystore.ErrSlotEmpty):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, element.ErrKindMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, policy.ErrInvalidSlot),
		errors.Is(err, policy.ErrUnsupportedUsageFlag),
		errors.Is(err, policy.ErrUnknownKind),
		errors.Is(err, algorithm.ErrUnsupportedCurve),
		errors.Is(err, algorithm.ErrUnsupportedKeySize),
		errors.Is(err, algorithm.ErrUnsupportedHashAlgorithm),
		errors.Is(err, element.ErrInvalidInputType),
		errors.Is(err, element.ErrInvalidLength):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}

// outcome classifies err for the audit trail.
func outcome(err error) (result, faultCode string) {
	if err == nil {
		return audit.StatusOK, ""
	}
	var fault *hsm.HardwareFault
	if errors.As(err, &fault) {
		if fault.Code == hsm.StatusUsageDenied {
			return audit.StatusDenied, fault.Code.String()
		}
		return audit.StatusFault, fault.Code.String()
	}
	return audit.StatusError, ""
}
