package middleware

import (
	"errors"
	"net/http"
	"strings"
)

// TokenConfig controls where a bearer credential is read from.
type TokenConfig struct {
	// Headers are checked in order.
	Headers []string
	// RequireBearer rejects an Authorization header without the "Bearer " prefix.
	RequireBearer bool
	// AllowedPrefixes are stripped from non-Authorization headers.
	AllowedPrefixes []string
}

var DefaultTokenConfig = &TokenConfig{
	Headers:         []string{"Authorization"},
	RequireBearer:   true,
	AllowedPrefixes: []string{"Bearer "},
}

// ExtractTokenFromRequest returns the first non-empty credential found in config.Headers.
func ExtractTokenFromRequest(r *http.Request, config *TokenConfig) (string, error) {
	if config == nil {
		config = DefaultTokenConfig
	}

	var lastError error

	for _, headerName := range config.Headers {
		headerValue := r.Header.Get(headerName)
		if headerValue == "" {
			continue
		}

		if strings.EqualFold(headerName, "authorization") && config.RequireBearer {
			if !strings.HasPrefix(headerValue, "Bearer ") {
				lastError = errors.New("Authorization header must start with 'Bearer '")
				continue
			}

			token := strings.TrimSpace(strings.TrimPrefix(headerValue, "Bearer "))
			if token == "" {
				lastError = errors.New("token is required")
				continue
			}

			return token, nil
		}

		token := headerValue

		for _, prefix := range config.AllowedPrefixes {
			if strings.HasPrefix(headerValue, prefix) {
				token = strings.TrimPrefix(headerValue, prefix)
				break
			}
		}

		if strings.TrimSpace(token) == "" {
			lastError = errors.New("token is required")
			continue
		}

		return strings.TrimSpace(token), nil
	}

	if lastError != nil {
		return "", lastError
	}

	return "", errors.New("Authorization header is required")
}
