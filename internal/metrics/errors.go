package metrics

import (
	"context"
	"errors"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Error type constants for metrics labels.
const (
	ErrorTypeAuth        = "auth"
	ErrorTypeForbidden   = "forbidden"
	ErrorTypeNotFound    = "not_found"
	ErrorTypeConflict    = "conflict"
	ErrorTypeGone        = "gone"
	ErrorTypeRateLimit   = "rate_limit"
	ErrorTypeServerError = "server_error"
	ErrorTypeClientError = "client_error"
	ErrorTypeTimeout     = "timeout"
	ErrorTypeNetwork     = "network"
	ErrorTypeUnknown     = "unknown"
)

// ClassifyKubernetesError classifies an error from the Kubernetes API for metrics labeling.
// Returns an empty string for nil errors.
func ClassifyKubernetesError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var statusErr apierrors.APIStatus
	if errors.As(err, &statusErr) {
		return classifyByStatus(err)
	}

	// Fallback for transport errors based on error message
	return classifyByErrorMessage(err.Error())
}

func classifyByStatus(err error) string {
	switch {
	case apierrors.IsUnauthorized(err):
		return ErrorTypeAuth
	case apierrors.IsForbidden(err):
		return ErrorTypeForbidden
	case apierrors.IsNotFound(err):
		return ErrorTypeNotFound
	case apierrors.IsConflict(err):
		return ErrorTypeConflict
	case apierrors.IsGone(err), apierrors.IsResourceExpired(err):
		return ErrorTypeGone
	case apierrors.IsTooManyRequests(err):
		return ErrorTypeRateLimit
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err):
		return ErrorTypeTimeout
	case apierrors.IsInternalError(err), apierrors.IsServiceUnavailable(err):
		return ErrorTypeServerError
	case apierrors.IsBadRequest(err), apierrors.IsInvalid(err):
		return ErrorTypeClientError
	default:
		return ErrorTypeUnknown
	}
}

func classifyByErrorMessage(errStr string) string {
	errLower := strings.ToLower(errStr)

	switch {
	case strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline"):
		return ErrorTypeTimeout
	case strings.Contains(errLower, "connection refused") || strings.Contains(errLower, "no such host"):
		return ErrorTypeNetwork
	default:
		return ErrorTypeUnknown
	}
}
