// internal/middleware/logging.go
package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMiddleware logs method, path, duration and remote of each request.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Info("HTTP request")
		})
	}
}

// LogSessionConnect logs a WebSocket session attaching to a room.
func LogSessionConnect(logger *logrus.Logger, remoteAddr, roomCode, identity string) {
	logger.WithFields(logrus.Fields{
		"remote":   remoteAddr,
		"room":     roomCode,
		"identity": identity,
	}).Info("session connected")
}

// LogSessionDisconnect logs a WebSocket session detaching from a room.
func LogSessionDisconnect(logger *logrus.Logger, remoteAddr, roomCode string, err error) {
	fields := logrus.Fields{
		"remote": remoteAddr,
		"room":   roomCode,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("session disconnected")
}
