package middle

import (
	"context"
	"net/http"
	"strconv"

	"github.com/commercekit/paygate/infra/response"
)

// ContextKey is the type used for request context keys
type ContextKey string

// TenantIDKey is the context key holding the authenticated tenant ID
const TenantIDKey ContextKey = "tenant_id"

// TenantMiddleware extracts the tenant ID from the X-Tenant-ID header
// and stores it in the request context. Payment endpoints require it.
func TenantMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get("X-Tenant-ID")
			if tenantID == "" {
				response.Error(w, http.StatusBadRequest, "X-Tenant-ID header required", nil)
				return
			}

			if id, err := strconv.Atoi(tenantID); err != nil || id <= 0 {
				response.Error(w, http.StatusBadRequest, "X-Tenant-ID must be a positive integer", nil)
				return
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTenantIDFromContext returns the tenant ID from context or empty string
func GetTenantIDFromContext(ctx context.Context) string {
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}
