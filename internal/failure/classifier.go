// Package failure maps raw errors and HTTP-style status codes onto the
// closed failure taxonomy shared by the tool runtime and the agent loop.
package failure

import (
	"strings"

	"github.com/loomrun/loom/pkg/models"
)

// Closed set of failure codes the core may ever emit. Every ToolFailed or
// ProviderFailed payload carries one of these in its failure_code field.
const (
	CodeUnknownError          = "unknown_error"
	CodeTimeout               = "timeout"
	CodeRateLimited           = "rate_limited"
	CodeNetworkError          = "network_error"
	CodeNotFound              = "not_found"
	CodeValidationError       = "validation_error"
	CodePolicyDenied          = "policy_denied"
	CodePermissionDenied      = "permission_denied"
	CodeProcessFailed         = "process_failed"
	CodeToolError             = "tool_error"
	CodeProviderTimeout       = "provider_timeout"
	CodeProviderConnectError  = "provider_connect_error"
	CodeProviderReadError     = "provider_read_error"
	CodeProviderRequestError  = "provider_request_error"
	CodeProviderRateLimited   = "provider_rate_limited"
	CodeProviderServerError   = "provider_server_error"
	CodeProviderClientError   = "provider_client_error"
	CodeProviderHTTPError     = "provider_http_error"
)

// KnownCodes is the closed set used by E4 (failure taxonomy closure) checks.
var KnownCodes = map[string]bool{
	CodeUnknownError:         true,
	CodeTimeout:              true,
	CodeRateLimited:          true,
	CodeNetworkError:         true,
	CodeNotFound:             true,
	CodeValidationError:      true,
	CodePolicyDenied:         true,
	CodePermissionDenied:     true,
	CodeProcessFailed:        true,
	CodeToolError:            true,
	CodeProviderTimeout:      true,
	CodeProviderConnectError: true,
	CodeProviderReadError:    true,
	CodeProviderRequestError: true,
	CodeProviderRateLimited:  true,
	CodeProviderServerError:  true,
	CodeProviderClientError:  true,
	CodeProviderHTTPError:    true,
}

// IsKnown reports whether code belongs to the closed taxonomy.
func IsKnown(code string) bool {
	return code != "" && KnownCodes[code]
}

// ClassifyText maps a lowercased error message to a FailureInfo using
// substring heuristics, in priority order.
func ClassifyText(message string) models.FailureInfo {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return models.FailureInfo{Code: CodeUnknownError, Retryable: false, Category: "unknown"}
	}

	switch {
	case strings.Contains(text, "timed out"), strings.Contains(text, "timeout"):
		return models.FailureInfo{Code: CodeTimeout, Retryable: true, Category: "transient"}
	case strings.Contains(text, "rate limit"), strings.Contains(text, "429"):
		return models.FailureInfo{Code: CodeRateLimited, Retryable: true, Category: "provider"}
	case strings.Contains(text, "network"), strings.Contains(text, "connection"), strings.Contains(text, "temporarily unavailable"):
		return models.FailureInfo{Code: CodeNetworkError, Retryable: true, Category: "transient"}
	case strings.Contains(text, "not found"), strings.Contains(text, "unknown tool"):
		return models.FailureInfo{Code: CodeNotFound, Retryable: false, Category: "tooling"}
	case strings.Contains(text, "invalid tool call"), strings.Contains(text, "validation"):
		return models.FailureInfo{Code: CodeValidationError, Retryable: false, Category: "input"}
	case strings.Contains(text, "requires explicit approval"), strings.Contains(text, "is disabled"), strings.Contains(text, "not allowed by runtime policy"):
		return models.FailureInfo{Code: CodePolicyDenied, Retryable: false, Category: "policy"}
	case strings.Contains(text, "permission"), strings.Contains(text, "access denied"):
		return models.FailureInfo{Code: CodePermissionDenied, Retryable: false, Category: "security"}
	case strings.Contains(text, "exit code:"):
		return models.FailureInfo{Code: CodeProcessFailed, Retryable: false, Category: "execution"}
	}

	return models.FailureInfo{Code: CodeToolError, Retryable: false, Category: "execution"}
}

// ProviderErrorKind distinguishes the connection-layer failure modes a
// provider HTTP client can surface ahead of (or instead of) a status code.
type ProviderErrorKind int

const (
	ProviderErrNone ProviderErrorKind = iota
	ProviderErrTimeout
	ProviderErrConnect
	ProviderErrRead
	ProviderErrRequest
)

// ClassifyProviderError maps a provider-layer failure to FailureInfo. kind
// takes priority when non-zero (mirroring transport-exception classification
// ahead of status-code classification); otherwise status drives the result.
func ClassifyProviderError(kind ProviderErrorKind, status int, message string) models.FailureInfo {
	switch kind {
	case ProviderErrTimeout:
		return models.FailureInfo{Code: CodeProviderTimeout, Retryable: true, Category: "provider"}
	case ProviderErrConnect:
		return models.FailureInfo{Code: CodeProviderConnectError, Retryable: true, Category: "provider"}
	case ProviderErrRead:
		return models.FailureInfo{Code: CodeProviderReadError, Retryable: true, Category: "provider"}
	case ProviderErrRequest:
		return models.FailureInfo{Code: CodeProviderRequestError, Retryable: true, Category: "provider"}
	}

	if status != 0 {
		return ClassifyStatusCode(status)
	}
	return ClassifyText(message)
}

// ClassifyStatusCode maps an HTTP-style status code to FailureInfo.
func ClassifyStatusCode(status int) models.FailureInfo {
	switch {
	case status == 429:
		return models.FailureInfo{Code: CodeProviderRateLimited, Retryable: true, Category: "provider"}
	case status >= 500:
		return models.FailureInfo{Code: CodeProviderServerError, Retryable: true, Category: "provider"}
	case status >= 400:
		return models.FailureInfo{Code: CodeProviderClientError, Retryable: false, Category: "provider"}
	default:
		return models.FailureInfo{Code: CodeProviderHTTPError, Retryable: false, Category: "provider"}
	}
}
