package handler

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"coachhub/internal/logging"
	"coachhub/internal/platform/httpx"
)

type statusResponse struct {
	Status string `json:"status"`
}

// HTTPHandler serves /healthz: 200 when ready, 503 otherwise. The route is public, so failure
// details go to the log only.
func HTTPHandler(checker *Checker, log logrus.FieldLogger) http.HandlerFunc {
	log = logging.OrDiscard(log)
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checker.Check(r.Context()); err != nil {
			log.WithError(err).Warn("health check failed")
			httpx.WriteJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "not_serving"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "serving"})
	}
}
