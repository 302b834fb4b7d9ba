package api

import (
	"net/http"

	"github.com/lkj1313/LiveBoard/internal/auth"
)

// Routes mounts the HTTP API and the socket endpoint on a new mux. When
// tokens is non-nil the room routes require a valid token.
func (a *API) Routes(socket http.Handler, tokens *auth.JWTManager) *http.ServeMux {
	mux := http.NewServeMux()

	var rooms http.Handler = http.HandlerFunc(a.RoomsRouter)
	if tokens != nil {
		rooms = auth.Middleware(tokens, rooms)
	}

	mux.Handle("/ws", socket)
	mux.HandleFunc("/health", a.HealthHandler)
	mux.HandleFunc("/api/stats", a.StatsHandler)
	mux.Handle("/api/rooms", rooms)
	mux.Handle("/api/rooms/", rooms)

	return mux
}

// CORS answers preflight requests and sets the allow headers for origins
// in allowed. "*" allows any origin.
func CORS(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := allowOrigin(allowed, r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func allowOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if origin != "" && a == origin {
			return origin
		}
	}
	return ""
}
