package api

import "net/http"

// alive is the liveness probe.
func alive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Alive"})
}
