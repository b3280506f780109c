package api

import (
	"net/http"
)

// HealthHandler returns 200 while the process is up.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ReadyHandler returns 200 once the database is reachable.
func (a *API) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		if err := a.db.Ping(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
