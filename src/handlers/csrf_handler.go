package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/username/cellarbook/backend/src/config"
)

func GetCSRFToken(w http.ResponseWriter, r *http.Request) {
	log.Printf("Generating CSRF token for request from %s", r.RemoteAddr)

	token := generateRandomToken()

	http.SetCookie(w, &http.Cookie{
		Name:     "_csrf",
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		HttpOnly: true,
		Secure:   false, // Set to true in production with HTTPS
		MaxAge:   3600,  // 1 hour
	})

	// CORS headers so the browser accepts the cookie
	w.Header().Set("Access-Control-Allow-Origin", config.Cfg.FrontendBaseURL)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Requested-With, Cookie")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Expose-Headers", "X-CSRF-Token")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-CSRF-Token", token)

	json.NewEncoder(w).Encode(map[string]string{
		"csrfToken": token,
	})
}

// Generate a random token for CSRF protection
func generateRandomToken() string {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		// If we can't generate random bytes, use a timestamp-based fallback
		log.Printf("Error generating random bytes: %v", err)
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return base64.StdEncoding.EncodeToString(b)
}

// CSRFMiddleware compares the token from the X-CSRF-Token header with the
// token from the cookie on every state-changing request.
func CSRFMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip CSRF check for OPTIONS requests
			if r.Method == "OPTIONS" {
				origin := r.Header.Get("Origin")
				if origin == config.Cfg.FrontendBaseURL {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Requested-With, Cookie")
					w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
					w.Header().Set("Access-Control-Expose-Headers", "X-CSRF-Token")
				}
				w.WriteHeader(http.StatusOK)
				return
			}

			// Reads carry no state change; only the token endpoint needs a
			// GET exemption because it mints the cookie in the first place.
			if r.Method == "GET" && r.URL.Path == "/csrf" {
				next.ServeHTTP(w, r)
				return
			}

			headerToken := r.Header.Get("X-CSRF-Token")
			cookie, err := r.Cookie("_csrf")

			if headerToken != "" && err == nil && headerToken == cookie.Value {
				next.ServeHTTP(w, r)
				return
			}

			log.Printf("CSRF validation failed for %s %s (origin: %s)", r.Method, r.URL.Path, r.Header.Get("Origin"))

			if origin := r.Header.Get("Origin"); origin == config.Cfg.FrontendBaseURL {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Requested-With, Cookie")
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
				w.Header().Set("Access-Control-Expose-Headers", "X-CSRF-Token")
			}

			http.Error(w, "CSRF token validation failed", http.StatusForbidden)
		})
	}
}
