package server

import (
	"context"
	"net/http"

	"makercalc/internal/handlers"
	applog "makercalc/internal/log"
	"makercalc/internal/metrics"
)

func newRouter(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	ctx := context.Background()
	applog.Debug(ctx, "registering http routes")

	mux.HandleFunc("/healthz", handlers.Health)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
		applog.Debug(ctx, "route registered", "path", "/metrics")
	}

	mux.HandleFunc("/api/auth/signup", handlers.Signup)
	mux.HandleFunc("/api/auth/login", handlers.Login)
	mux.HandleFunc("/api/auth/logout", handlers.Logout)
	mux.HandleFunc("/api/auth/me", handlers.Me)

	protected := map[string]http.HandlerFunc{
		"/app/api/materials":               handlers.MaterialResource,
		"/app/api/vendors":                 handlers.VendorResource,
		"/app/api/categories":              handlers.CategoryResource,
		"/app/api/formulations":            handlers.FormulationResource,
		"/app/api/formulation-ingredients": handlers.FormulationIngredientResource,
		"/app/api/attachments":             handlers.AttachmentResource,
		"/app/api/export/":                 handlers.Export,
		"/app/api/subscription":            handlers.SubscriptionResource,
		"/app/api/costs/refresh":           handlers.RefreshCosts,
		"/app/api/import/prices":           handlers.ImportPrices,
		"/app/api/activity":                handlers.Activity,
		"/app/api/dashboard":               handlers.Dashboard,
	}
	for path, handler := range protected {
		wrapped := handlers.RequireAuthentication(handler)
		mux.Handle(path, wrapped)
		if path[len(path)-1] != '/' {
			mux.Handle(path+"/", wrapped)
		}
		applog.Debug(ctx, "route registered", "path", path, "protected", true)
	}

	return mux
}
