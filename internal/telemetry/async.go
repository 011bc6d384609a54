package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"coachhub/internal/logging"
	"coachhub/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops before shutting down OTel
// providers, so in-flight async emits can finish. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine so the request is not blocked. Errors are logged to log.
//
// emitter and event may be nil; EmitAsync then returns without starting a goroutine. The emit runs
// on a fresh context so request cancellation does not abort it.
func EmitAsync(emitter EventEmitter, event *domain.Event, log logrus.FieldLogger) {
	if emitter == nil || event == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	log = logging.OrDiscard(log)
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.WithError(err).WithField("event_type", string(event.Type)).Warn("telemetry: async emit failed")
		}
	}()
}
