package mgmt

import (
	"encoding/json"
	"log"
	"net/http"
)

// StartAdminServer starts the admin REST API and the /events websocket
// feed on addr in a background goroutine, returning immediately.
//
// Grounded on tools/fakeamps/admin.go's startAdminServer: an
// http.NewServeMux with one mux.HandleFunc registration per endpoint,
// and the same "log then ListenAndServe in a goroutine, log the error if
// it returns" startup shape.
func StartAdminServer(addr string, agent *Agent, hub *Hub, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/sessions", handleSessions(agent))
	mux.HandleFunc("/admin/queues", handleQueues(agent))
	if hub != nil {
		mux.HandleFunc("/events", hub.ServeWebsocket)
	}

	go func() {
		if logger != nil {
			logger.Printf("mgmt: admin API listening on %s", addr)
		}
		if err := http.ListenAndServe(addr, mux); err != nil {
			if logger != nil {
				logger.Printf("mgmt: admin API error: %v", err)
			}
		}
	}()
}

func jsonResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func handleSessions(agent *Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]any{"sessions": agent.SessionSnapshots()})
	}
}

func handleQueues(agent *Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]any{"queues": agent.QueueSnapshots()})
	}
}
