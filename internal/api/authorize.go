package api

import (
	"errors"
	"net/http"

	"github.com/koopa0/crawlchat/internal/auth"
	"github.com/koopa0/crawlchat/internal/log"
)

// authorize validates the request's Authorization header against the
// upstream provider. On rejection the upstream's status and body are
// relayed verbatim and false is returned.
func authorize(w http.ResponseWriter, r *http.Request, authorizer auth.Authorizer, logger log.Logger) bool {
	err := authorizer.Authorize(r.Context(), r.Header.Get("Authorization"))
	if err == nil {
		return true
	}

	var authErr *auth.Error
	if errors.As(err, &authErr) {
		logger.Debug("request not authorized",
			"path", r.URL.Path, "status", authErr.StatusCode)
		writeRaw(w, authErr.StatusCode, authErr.Body)
		return false
	}

	logger.Error("auth check unavailable", "path", r.URL.Path, "error", err)
	writeDetail(w, http.StatusBadGateway, "authorization service unavailable")
	return false
}
