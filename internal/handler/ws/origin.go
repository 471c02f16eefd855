package ws

import (
	"os"
	"strings"
	"sync"
)

var (
	allowedOriginsOnce sync.Once
	allowedOrigins     map[string]bool
)

// GetAllowedOrigins returns the origins allowed to open websocket
// connections, read once from CORS_ALLOWED_ORIGINS.
func GetAllowedOrigins() map[string]bool {
	allowedOriginsOnce.Do(func() {
		allowedOrigins = make(map[string]bool)
		env := os.Getenv("CORS_ALLOWED_ORIGINS")
		if env == "" {
			allowedOrigins["http://localhost:3000"] = true
			allowedOrigins["http://localhost:5173"] = true
			return
		}
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	})
	return allowedOrigins
}
