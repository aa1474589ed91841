package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/helmsman-dev/helmsman/internal/eventbus"
)

// MountEvents wires the event bus's push transport onto r at path,
// one subscriber per upgraded connection keyed by the conn_id query
// parameter (or a generated id if absent). Commands never arrive on
// this socket — it is announcements-only; see Server for the command
// side.
func MountEvents(r chi.Router, bus *eventbus.Bus, log *zap.Logger, path string) {
	r.Get(path, func(w http.ResponseWriter, req *http.Request) {
		connID := req.URL.Query().Get("conn_id")
		if connID == "" {
			connID = req.RemoteAddr
		}
		eventbus.ServeWebSocket(bus, connID, log, w, req)
	})
}
