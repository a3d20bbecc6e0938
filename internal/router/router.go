package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"library-lending/internal/config"
	"library-lending/internal/handler"
	"library-lending/internal/middleware"
	"library-lending/internal/policy"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	Book   *handler.BookHandler
	User   *handler.UserHandler
	Loan   *handler.LoanHandler
	Audit  *handler.AuditHandler
	Health *handler.HealthHandler
}

func New(cfg *config.Config, auth *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Health)

	allow := func(resource policy.Resource, action policy.Action) func(http.Handler) http.Handler {
		return auth.Authorize(resource, action, nil)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))
		api.Use(auth.Authenticate)

		api.Route("/auth", func(r chi.Router) {
			r.With(allow(policy.ResourceAuth, policy.ActionCreate)).Post("/login", h.Auth.Login)
			r.With(allow(policy.ResourceAuth, policy.ActionCreate)).Post("/register", h.Auth.Register)
			r.With(allow(policy.ResourceAuth, policy.ActionRead)).Get("/public-key", h.Auth.PublicKey)
			r.With(allow(policy.ResourceProfile, policy.ActionRead)).Get("/me", h.Auth.Me)
		})

		api.Route("/books", func(r chi.Router) {
			r.With(allow(policy.ResourceBook, policy.ActionRead)).Get("/", h.Book.List)
			r.With(allow(policy.ResourceBook, policy.ActionCreate)).Post("/", h.Book.Create)
			r.With(allow(policy.ResourceBook, policy.ActionRead)).Get("/{id}", h.Book.Get)
			r.With(allow(policy.ResourceBook, policy.ActionUpdate)).Put("/{id}", h.Book.Update)
			r.With(allow(policy.ResourceBook, policy.ActionDelete)).Delete("/{id}", h.Book.Delete)
		})

		api.Route("/users", func(r chi.Router) {
			r.With(allow(policy.ResourceUser, policy.ActionRead)).Get("/", h.User.List)
			r.With(allow(policy.ResourceUser, policy.ActionCreate)).Post("/", h.User.Create)
			r.With(allow(policy.ResourceUser, policy.ActionRead)).Get("/{id}", h.User.Get)
			r.With(allow(policy.ResourceUser, policy.ActionUpdate)).Put("/{id}", h.User.Update)
			r.With(allow(policy.ResourceUser, policy.ActionUpdate)).Post("/{id}/approve", h.User.Approve)
			r.With(allow(policy.ResourceUser, policy.ActionUpdate)).Put("/{id}/role", h.User.ChangeRole)
			r.With(allow(policy.ResourceUser, policy.ActionDelete)).Delete("/{id}", h.User.Delete)
			r.With(allow(policy.ResourceUser, policy.ActionRead)).Get("/{id}/loans", h.User.Loans)
		})

		api.Route("/loans", func(r chi.Router) {
			r.With(allow(policy.ResourceLoan, policy.ActionRead)).Get("/", h.Loan.List)
			r.With(allow(policy.ResourceLoan, policy.ActionRead)).Get("/active", h.Loan.Active)
			r.With(allow(policy.ResourceLoan, policy.ActionRead)).Get("/returned", h.Loan.Returned)
			r.With(auth.Authorize(policy.ResourceLoan, policy.ActionRead, h.Loan.BorrowerOwner)).Get("/by-borrower", h.Loan.ByBorrower)
			r.With(auth.Authorize(policy.ResourceLoan, policy.ActionRead, h.Loan.BorrowerEmailOwner)).Get("/by-borrower-email", h.Loan.ByBorrowerEmail)
			r.With(allow(policy.ResourceLoan, policy.ActionRead)).Get("/by-book", h.Loan.ByBook)
			r.With(auth.Authorize(policy.ResourceLoan, policy.ActionRead, h.Loan.LoanOwner)).Get("/{id}", h.Loan.Get)
			r.With(allow(policy.ResourceLoan, policy.ActionCreate)).Post("/", h.Loan.Open)
			r.With(allow(policy.ResourceLoan, policy.ActionUpdate)).Post("/{id}/return", h.Loan.Return)
		})

		api.With(allow(policy.ResourceAudit, policy.ActionRead)).Get("/audit", h.Audit.List)
	})

	return r
}
