package middle

import (
	"net/http"
	"strings"

	"github.com/commercekit/paygate/infra/config"
	"github.com/commercekit/paygate/infra/response"
)

const maxRequestBody = 10 * 1024 * 1024

// SecurityHeadersMiddleware adds security headers to responses
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}

// IPWhitelistMiddleware restricts access to the IPs listed in IP_WHITELIST.
// An empty list disables the check.
func IPWhitelistMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			whitelist := config.GetEnv("IP_WHITELIST", "")
			if whitelist == "" {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := GetClientIP(r)
			for _, ip := range strings.Split(whitelist, ",") {
				if strings.TrimSpace(ip) == clientIP {
					next.ServeHTTP(w, r)
					return
				}
			}

			response.Error(w, http.StatusForbidden, "IP not whitelisted", nil)
		})
	}
}

// RequestValidationMiddleware enforces content type and body size limits.
func RequestValidationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				if status, msg := checkContentType(r); msg != "" {
					response.Error(w, status, msg, nil)
					return
				}
			}

			if r.ContentLength > maxRequestBody {
				response.Error(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func checkContentType(r *http.Request) (status int, msg string) {
	contentType := r.Header.Get("Content-Type")

	// Gateways post form-urlencoded callbacks and webhooks; everything else
	// is a JSON API.
	gatewayEndpoint := strings.HasPrefix(r.URL.Path, "/v1/callback") ||
		strings.HasPrefix(r.URL.Path, "/v1/webhooks")

	if contentType == "" {
		if gatewayEndpoint {
			return 0, ""
		}
		return http.StatusBadRequest, "Content-Type header is required"
	}

	if strings.Contains(contentType, "application/json") {
		return 0, ""
	}
	if gatewayEndpoint {
		if strings.Contains(contentType, "application/x-www-form-urlencoded") {
			return 0, ""
		}
		return http.StatusUnsupportedMediaType, "Content-Type must be application/json or application/x-www-form-urlencoded"
	}
	return http.StatusUnsupportedMediaType, "Content-Type must be application/json"
}
