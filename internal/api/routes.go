package api

import (
	"github.com/MGallo-Code/warden/internal/store"
	"github.com/go-chi/chi/v5"
)

// Mount registers every route on r. limiter throttles the unauthenticated
// POST endpoints; nil disables throttling.
func (h *Handler) Mount(r chi.Router, limiter *IPLimiter) {
	if limiter == nil {
		limiter = NewIPLimiter(0, 1, nil)
	}

	r.Get("/health", h.CheckHealth)
	r.Post("/password/strength", h.PasswordStrength)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Throttle)
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	// Authentication required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)
		r.Get("/session", h.Session)
		r.Post("/logout", h.Logout)
		r.Post("/password/change", h.PasswordChange)

		// RequireRole reads the session injected by RequireSession above
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireRole(store.RoleAdmin))
			r.Get("/lockouts/{identifier}", h.LockoutStatus)
			r.Delete("/lockouts/{identifier}", h.ClearLockout)
			r.Put("/users/{identifier}/active", h.SetUserActive)
		})
	})
}
