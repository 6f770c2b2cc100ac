package middle

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/commercekit/paygate/infra/config"
	"github.com/commercekit/paygate/infra/response"
)

// AuthMiddleware checks the Bearer token against the API_KEY environment
// variable. Requests fail with 500 when no key is configured so a
// misconfigured deployment never serves unauthenticated traffic.
func AuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedAPIKey := config.GetEnv("API_KEY", "")
			if expectedAPIKey == "" {
				response.Error(w, http.StatusInternalServerError, "API key not configured", nil)
				return
			}

			apiKey, errMsg := bearerToken(r)
			if errMsg != "" {
				response.Error(w, http.StatusUnauthorized, errMsg, nil)
				return
			}

			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(expectedAPIKey)) != 1 {
				response.Error(w, http.StatusUnauthorized, "Invalid API key", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (token, errMsg string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "Authorization header required"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "Invalid authorization format. Use: Bearer <api_key>"
	}
	token = strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "API key required"
	}
	return token, ""
}
