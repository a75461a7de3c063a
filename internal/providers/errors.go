package providers

import "strings"

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

// ClassifyError buckets a provider failure for failover and cooldown.
// ErrorContext means the input was too long for the model.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "deadline exceeded"), strings.Contains(e, "connection refused"), strings.Contains(e, "connection reset"):
		return ErrorTransient
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "rate_limit"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "maximum context"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, " 502"), strings.Contains(e, " 503"), strings.Contains(e, " 504"), strings.Contains(e, "eof"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Retryable reports whether another attempt, on this or another provider,
// may succeed.
func Retryable(t ErrorType) bool {
	return t == ErrorRate || t == ErrorTransient || t == ErrorQuota
}
