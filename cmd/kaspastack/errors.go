package main

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Infrastructure Error Taxonomy
// =============================================================================

// InfraErrorKind classifies container-infrastructure failures into typed
// categories with remediation text.
type InfraErrorKind int

const (
	// InfraUnknown is an unclassified infrastructure failure.
	InfraUnknown InfraErrorKind = iota

	// InfraDaemonUnreachable means the container daemon is not running
	// or not reachable over its socket.
	InfraDaemonUnreachable

	// InfraPermissionDenied means the current user lacks access to the
	// daemon socket or a mounted path.
	InfraPermissionDenied

	// InfraPortAllocated means a host port needed by a service is
	// already bound.
	InfraPortAllocated

	// InfraImageNotFound means a referenced image or tag does not exist
	// in the registry.
	InfraImageNotFound

	// InfraDiskFull means the host ran out of disk space.
	InfraDiskFull

	// InfraTimeout means the operation exceeded its deadline. Transient.
	InfraTimeout

	// InfraConnectionReset means the network connection dropped
	// mid-operation. Transient.
	InfraConnectionReset

	// InfraRateLimited means a registry rejected the request due to
	// rate limiting. Transient.
	InfraRateLimited

	// InfraDNSFailure means a registry or endpoint hostname could not
	// be resolved. Transient.
	InfraDNSFailure
)

// String returns the machine-readable category name.
func (k InfraErrorKind) String() string {
	switch k {
	case InfraDaemonUnreachable:
		return "daemon_unreachable"
	case InfraPermissionDenied:
		return "permission_denied"
	case InfraPortAllocated:
		return "port_allocated"
	case InfraImageNotFound:
		return "image_not_found"
	case InfraDiskFull:
		return "disk_full"
	case InfraTimeout:
		return "timeout"
	case InfraConnectionReset:
		return "connection_reset"
	case InfraRateLimited:
		return "rate_limited"
	case InfraDNSFailure:
		return "dns_failure"
	default:
		return "unknown"
	}
}

// Transient reports whether failures of this kind are worth retrying
// automatically. Non-transient kinds fail immediately.
func (k InfraErrorKind) Transient() bool {
	switch k {
	case InfraTimeout, InfraConnectionReset, InfraRateLimited, InfraDNSFailure:
		return true
	default:
		return false
	}
}

// Remediation returns a concrete action the operator can take.
func (k InfraErrorKind) Remediation() string {
	switch k {
	case InfraDaemonUnreachable:
		return "Start Docker Desktop (or `systemctl start docker`) and retry."
	case InfraPermissionDenied:
		return "Add your user to the docker group or rerun with elevated privileges."
	case InfraPortAllocated:
		return "Stop the process holding the port (`lsof -i :<port>`) or change the port in the configuration."
	case InfraImageNotFound:
		return "Check the image tag in the compose file and verify registry access."
	case InfraDiskFull:
		return "Free disk space (`docker system prune`) and retry."
	case InfraTimeout:
		return "The operation timed out; check network connectivity and retry."
	case InfraConnectionReset:
		return "The connection dropped; check network stability and retry."
	case InfraRateLimited:
		return "The registry is rate limiting pulls; wait a few minutes or authenticate to raise the limit."
	case InfraDNSFailure:
		return "Hostname resolution failed; check DNS settings and network connectivity."
	default:
		return "Check the daemon logs for details and retry."
	}
}

// InfraError is a classified infrastructure failure carrying enough
// context for the retry layer and for user-facing remediation text.
//
// # Example
//
//	err := ClassifyInfraError("pull", "kaspad", rawErr)
//	if err.Kind.Transient() {
//	    // retried by RetryTransient
//	}
//	fmt.Println(err.Remediation())
type InfraError struct {
	// Kind is the classified category.
	Kind InfraErrorKind

	// Stage is the pipeline stage where the failure occurred
	// (pull, build, start, validate).
	Stage string

	// Service is the service or image involved, if known.
	Service string

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns a formatted message including stage and service context.
func (e *InfraError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	if e.Service != "" {
		fmt.Fprintf(&b, " %s", e.Service)
	}
	fmt.Fprintf(&b, ": %s: %v", e.Kind, e.Wrapped)
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *InfraError) Unwrap() error {
	return e.Wrapped
}

// Remediation returns the remediation text for this error's category.
func (e *InfraError) Remediation() string {
	return e.Kind.Remediation()
}

// classificationPatterns maps lowercase message substrings to kinds.
// Order matters: more specific patterns come first.
var classificationPatterns = []struct {
	substr string
	kind   InfraErrorKind
}{
	{"cannot connect to the docker daemon", InfraDaemonUnreachable},
	{"is the docker daemon running", InfraDaemonUnreachable},
	{"error during connect", InfraDaemonUnreachable},
	{"docker.sock", InfraDaemonUnreachable},
	{"permission denied", InfraPermissionDenied},
	{"port is already allocated", InfraPortAllocated},
	{"address already in use", InfraPortAllocated},
	{"bind: address", InfraPortAllocated},
	{"no such image", InfraImageNotFound},
	{"manifest unknown", InfraImageNotFound},
	{"pull access denied", InfraImageNotFound},
	{"repository does not exist", InfraImageNotFound},
	{"no space left on device", InfraDiskFull},
	{"disk quota exceeded", InfraDiskFull},
	{"toomanyrequests", InfraRateLimited},
	{"rate limit", InfraRateLimited},
	{"no such host", InfraDNSFailure},
	{"temporary failure in name resolution", InfraDNSFailure},
	{"server misbehaving", InfraDNSFailure},
	{"connection reset", InfraConnectionReset},
	{"broken pipe", InfraConnectionReset},
	{"unexpected eof", InfraConnectionReset},
	{"timed out", InfraTimeout},
	{"timeout", InfraTimeout},
	{"deadline exceeded", InfraTimeout},
}

// ClassifyInfraError wraps err in an InfraError, classifying it by
// message-pattern matching. A nil err returns nil.
func ClassifyInfraError(stage, service string, err error) *InfraError {
	if err == nil {
		return nil
	}

	var infraErr *InfraError
	if errors.As(err, &infraErr) {
		return infraErr
	}

	msg := strings.ToLower(err.Error())
	kind := InfraUnknown
	for _, p := range classificationPatterns {
		if strings.Contains(msg, p.substr) {
			kind = p.kind
			break
		}
	}

	return &InfraError{
		Kind:    kind,
		Stage:   stage,
		Service: service,
		Wrapped: err,
	}
}

// IsTransient reports whether err classifies into a transient category
// worth retrying automatically.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var infraErr *InfraError
	if errors.As(err, &infraErr) {
		return infraErr.Kind.Transient()
	}
	return ClassifyInfraError("", "", err).Kind.Transient()
}
