package recovery

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/hlog"

	"github.com/andperez123/capnet/internal/api/respond"
)

// Middleware turns a panic in any downstream handler into a logged 500 with
// the standard {"ok":false} body. It logs through the request logger so the
// entry carries whatever fields the access middleware attached.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			hlog.FromRequest(r).Error().
				Interface("panic", rec).
				Str("method", r.Method).
				Str("url", r.URL.String()).
				Str("remote", r.RemoteAddr).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")
			respond.WriteInternalError(w, "Server error")
		}()
		next.ServeHTTP(w, r)
	})
}
