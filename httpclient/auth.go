package httpclient

import (
	"net/http"
	"strings"
)

// Auth sets provider credentials on an outbound request. A nil Auth sends
// no credentials.
type Auth func(*http.Request)

// BearerAuth sends key as "Authorization: Bearer <key>", the scheme of
// OpenAI-compatible providers. An empty key sends nothing, which is what a
// local gateway or Ollama expects.
func BearerAuth(key string) Auth {
	if key == "" {
		return nil
	}
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+key) }
}

// HeaderAuth sends key in the named header, e.g. Anthropic's x-api-key.
func HeaderAuth(header, key string) Auth {
	if key == "" || header == "" {
		return nil
	}
	return func(r *http.Request) { r.Header.Set(header, key) }
}

// QueryAuth appends key as a query parameter, as Google's native endpoints take it.
func QueryAuth(param, key string) Auth {
	if key == "" || param == "" {
		return nil
	}
	return func(r *http.Request) {
		q := r.URL.Query()
		q.Set(param, key)
		r.URL.RawQuery = q.Encode()
	}
}

// ChainAuth applies each non-nil scheme in order.
func ChainAuth(schemes ...Auth) Auth {
	return func(r *http.Request) {
		for _, a := range schemes {
			a.apply(r)
		}
	}
}

func (a Auth) apply(r *http.Request) {
	if a != nil {
		a(r)
	}
}

// RedactKey shortens an API key for logs: "sk-abc...wxyz".
func RedactKey(key string) string {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "***"
	default:
		return key[:6] + "..." + key[len(key)-4:]
	}
}
