package api

import (
	"net/http"

	"github.com/platinummonkey/schoolbilling/pkg/billing"
	"github.com/platinummonkey/schoolbilling/pkg/httputil"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

const msgServerError = "A server error occurred."

// StatusForKind maps a billing error kind to its HTTP status. Validation and upstream
// failures share 400 so existing clients keep seeing a single client-error status.
func StatusForKind(kind billing.Kind) int {
	switch kind {
	case billing.KindAuthorizationDenied:
		return http.StatusForbidden
	case billing.KindNotFound:
		return http.StatusNotFound
	case billing.KindValidationFailed, billing.KindUpstreamFailure:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeBillingError writes err with the {"detail"} envelope
func writeBillingError(w http.ResponseWriter, r *http.Request, err error) {
	kind := billing.KindOf(err)
	status := StatusForKind(kind)

	entry := observability.FromContext(r.Context()).WithError(err).WithField("kind", kind.String())
	if status >= http.StatusInternalServerError {
		entry.Error("billing request failed")
		httputil.WriteDetail(w, status, msgServerError)
		return
	}
	entry.Info("billing request rejected")
	httputil.WriteDetail(w, status, err.Error())
}
