package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the HTTP settings chosen by main.
type RouterConfig struct {
	CORSOrigins    []string
	RateLimitRPM   int
	RequestTimeout time.Duration

	// MetricsHandler is mounted at /metrics when set
	MetricsHandler http.Handler

	// EventStream (SSE) and EventSocket (WebSocket) serve post events
	// at /v1/events and /v1/events/ws when set
	EventStream http.Handler
	EventSocket http.Handler
}

func (h *Handler) Routes(m *Middleware, cfg RouterConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(cfg.CORSOrigins))
	if cfg.RateLimitRPM > 0 {
		r.Use(m.RateLimit(cfg.RateLimitRPM))
	}
	r.Use(m.Actor)

	// buffered responses; streams stay outside
	timed := func(r chi.Router) {
		r.Use(m.Compress)
		r.Use(m.Timeout(cfg.RequestTimeout))
	}

	// Health endpoints
	r.Group(func(r chi.Router) {
		timed(r)
		r.Get("/healthz", h.Healthz)
		r.Get("/readyz", h.Readyz)
		if cfg.MetricsHandler != nil {
			r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.EventStream != nil {
			r.Method(http.MethodGet, "/events", cfg.EventStream)
		}
		if cfg.EventSocket != nil {
			r.Method(http.MethodGet, "/events/ws", cfg.EventSocket)
		}

		r.Group(func(r chi.Router) {
			timed(r)
			r.Get("/models", h.ListModels)
			r.Post("/rpc", h.HandleJSONRPC)

			r.Route("/users", func(r chi.Router) {
				r.Post("/", h.StoreUser)
				r.Get("/search", h.SearchUsers)
				r.Get("/by-username/{username}", h.GetUserByUsername)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetUser)
					r.Get("/followers", h.Followers)
					r.Get("/following", h.Following)
					r.Get("/follow-counts", h.FollowCounts)
					r.Get("/summary", h.AuthorSummary)

					r.Group(func(r chi.Router) {
						r.Use(m.RequireUser)
						r.Put("/username", h.SetUsername)
						r.Post("/follow", h.Follow)
						r.Delete("/follow", h.Unfollow)
					})
				})
			})

			r.Route("/posts", func(r chi.Router) {
				r.Get("/", h.ListPosts)
				r.With(m.RequireUser).Post("/", h.CreatePost)
				r.Get("/search", h.SearchPosts)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetPost)
					r.Post("/views", h.RecordView)
					r.Get("/comments", h.ListComments)
					r.Post("/comments", h.AddComment)
					r.Post("/likes", h.LikePost)

					r.Group(func(r chi.Router) {
						r.Use(m.RequireUser)
						r.Patch("/", h.UpdatePost)
						r.Delete("/", h.DeletePost)
						r.Post("/publish", h.PublishPost)
						r.Post("/unpublish", h.UnpublishPost)
						r.Post("/schedule", h.SchedulePost)
						r.Get("/stats", h.PostStats)
						r.Delete("/likes", h.UnlikePost)
					})
				})
			})

			r.Route("/comments/{id}", func(r chi.Router) {
				r.Use(m.RequireUser)
				r.Patch("/", h.ModerateComment)
				r.Delete("/", h.DeleteComment)
			})
		})
	})

	return r
}
