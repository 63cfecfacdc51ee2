// Package errors provides structured domain errors for the map session service.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Identity errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Request shape errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Lookup errors
	CodeNotFound Code = "NOT_FOUND"

	// Authorization errors
	CodeForbidden Code = "FORBIDDEN"
	CodeNotJoined Code = "NOT_JOINED"

	// Session lifecycle errors
	CodeSessionClosed Code = "SESSION_CLOSED"
	CodeOwnerOffline  Code = "OWNER_OFFLINE"

	// Storage errors
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeForbidden, CodeNotJoined:
		return codes.PermissionDenied
	case CodeSessionClosed:
		return codes.FailedPrecondition
	case CodeOwnerOffline, CodePersistenceFailure:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// WireCode renders the upper-snake code carried by socket error frames.
// Clients branch on these values, so they follow the gRPC canonical names
// except where the socket protocol already had its own word.
func (c Code) WireCode() string {
	switch grpcCode := c.GRPCCode(); grpcCode {
	case codes.Unauthenticated:
		return "UNAUTHENTICATED"
	case codes.InvalidArgument:
		return "INVALID_ARGUMENT"
	case codes.NotFound:
		return "NOT_FOUND"
	case codes.PermissionDenied:
		return "FORBIDDEN"
	case codes.FailedPrecondition:
		return "FAILED_PRECONDITION"
	case codes.Unavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// Retryable reports whether a client may retry the same request unchanged.
func (c Code) Retryable() bool {
	return c.GRPCCode() == codes.Unavailable
}
