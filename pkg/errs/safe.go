package errs

import (
	"errors"
	"regexp"
)

// SafeResponse is the error shape emitted to untrusted callers. Stack
// traces, cause chains, connection strings, SQL, and file paths never
// appear here; only the code, a scrubbed message, and a correlation id.
type SafeResponse struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// sensitivePatterns match fragments that must not leak to callers.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|pwd)=\S+`),
	regexp.MustCompile(`(?i)postgres(ql)?://\S+`),
	regexp.MustCompile(`(?i)redis://\S+`),
	regexp.MustCompile(`(?i)\b(select|insert|update|delete)\b\s+.{0,200}\bfrom\b`),
	regexp.MustCompile(`(/[\w.-]+){2,}`),
}

// scrub replaces sensitive fragments with a placeholder.
func scrub(msg string) string {
	for _, p := range sensitivePatterns {
		msg = p.ReplaceAllString(msg, "[redacted]")
	}
	return msg
}

// ToSafeResponse maps an internal error to its caller-safe form.
func ToSafeResponse(err error, correlationID string) SafeResponse {
	resp := SafeResponse{CorrelationID: correlationID}

	var ve *ValidationError
	var nfe *NotFoundError
	var ce *ConflictError
	var cfg *ConfigurationError
	var te *TimeoutError
	var coe *CircuitOpenError

	switch {
	case errors.As(err, &ve):
		resp.Code = "VALIDATION_ERROR"
		resp.Message = scrub(ve.Error())
	case errors.As(err, &nfe):
		resp.Code = "NOT_FOUND"
		resp.Message = scrub(nfe.Error())
	case errors.As(err, &ce):
		resp.Code = "CONFLICT"
		resp.Message = scrub(ce.Error())
	case errors.As(err, &cfg):
		resp.Code = "CONFIGURATION_ERROR"
		resp.Message = scrub(cfg.Message)
	case errors.As(err, &te):
		resp.Code = te.Code()
		resp.Message = te.Error()
	case errors.As(err, &coe):
		resp.Code = "CIRCUIT_OPEN"
		resp.Message = "service temporarily unavailable"
	default:
		resp.Code = "INTERNAL_ERROR"
		resp.Message = "internal error"
	}
	return resp
}
