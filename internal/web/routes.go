package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/candy-kiosk/internal/web/handlers"
)

// apiTimeout bounds every endpoint except the camera stream.
const apiTimeout = time.Minute

func (s *Server) setupRoutes(h Handlers) {
	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Stream is long-lived: no timeout, but it ends when the server shuts down
		if h.Camera != nil {
			r.With(s.untilShutdown).Get("/camera/stream", h.Camera.Stream)
		}

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(apiTimeout))

			// Camera
			if h.Camera != nil {
				r.Post("/camera/start", h.Camera.Start)
				r.Post("/camera/stop", h.Camera.Stop)
				r.Get("/camera/status", h.Camera.Status)
			}

			// Face
			if h.Face != nil {
				r.Get("/face/status", h.Face.Status)
				r.Post("/face/register-current-face", h.Face.RegisterCurrentFace)
				r.Get("/face/users", h.Face.ListUsers)
				r.Delete("/face/users/{user_id}", h.Face.DeleteUser)
				r.Get("/face/current-session", h.Face.CurrentSession)
				r.Post("/face/reset-session", h.Face.ResetSession)
				r.Delete("/face/database", h.Face.ClearDatabase)
				r.Get("/face/similarity-test/{user_id}", h.Face.SimilarityTest)
			}

			// Robot
			if h.Robot != nil {
				r.Get("/robot/status", h.Robot.Status)
				r.Post("/robot/test-connection", h.Robot.TestConnection)
				r.Post("/robot/send-manual-message", h.Robot.SendManualMessage)
				r.Get("/robot/config", h.Robot.Config)
			}

			// Chatbot
			if h.Chatbot != nil {
				r.Post("/chatbot/chat", h.Chatbot.Chat)
				r.Post("/chatbot/clear", h.Chatbot.Clear)
				r.Get("/chatbot/history", h.Chatbot.History)
				r.Get("/chatbot/sessions", h.Chatbot.Sessions)
			}
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}` + "\n"))
	})
}
