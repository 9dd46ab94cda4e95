package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// tus clients need these on preflight and must be able to read them back.
var tusHeaders = []string{
	"Tus-Resumable", "Upload-Length", "Upload-Offset", "Upload-Metadata",
	"Upload-Defer-Length", "Upload-Concat", "Location", "Tus-Version",
	"Tus-Extension", "Tus-Max-Size",
}

// CORS allows the configured origins with credentials. Preflight requests
// are answered with 200 so they never reach the auth middleware.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := append([]string{
		"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Captcha-Id", "X-HTTP-Method-Override",
	}, tusHeaders...)
	exposed := append([]string{"X-Captcha-Id", "Content-Disposition"}, tusHeaders...)

	return cors.Handler(cors.Options{
		AllowedOrigins:     allowedOrigins,
		AllowedMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:     allowed,
		ExposedHeaders:     exposed,
		AllowCredentials:   true,
		MaxAge:             300,
		OptionsPassthrough: false,
	})
}
