package providers

import (
	"net/http"
	"strings"
)

func augmentProviderError(providerName string, statusCode int, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return msg + " Hint: check providers." + NormalizeProviderName(providerName) + ".api_key or the matching HOMEAGENT_PROVIDERS_*_API_KEY variable."
	case http.StatusTooManyRequests:
		return msg + " Hint: the provider is rate limiting requests; intent resolution falls back to keyword matching until it recovers."
	case StatusOverloaded, http.StatusServiceUnavailable:
		return msg + " Hint: the provider reports overload; requests are retried once before falling back."
	}
	return msg
}
