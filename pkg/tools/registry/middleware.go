package registry

import (
	"net/http"
	"strconv"

	"github.com/daytonaio/daytona-adk-plugin/pkg/observability"
)

// wrapRoute counts requests to a provider route by status.
func wrapRoute(providerName string, route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := observability.NewStatusRecorder(w)
		route.Handler.ServeHTTP(rec, r)
		routeRequests.WithLabelValues(providerName, r.Method, route.Pattern, strconv.Itoa(rec.Status())).Inc()
	}
}
