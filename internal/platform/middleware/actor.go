package middleware

import (
	"net/http"

	"revtrail/pkg/requestcontext"
)

// ActorHeader carries the authenticated username, stamped by the gateway in
// front of this service.
const ActorHeader = "X-Actor"

// Actor propagates the acting principal into the request context so recorded
// revisions are attributed to a user. Requests without the header fall back
// to the system actor.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(ActorHeader); actor != "" {
			r = r.WithContext(requestcontext.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
