package handler

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authhandler "github.com/medsurplus/vendorchat/internal/handler/auth"
	chathandler "github.com/medsurplus/vendorchat/internal/handler/chat"
	markethandler "github.com/medsurplus/vendorchat/internal/handler/market"
	reporthandler "github.com/medsurplus/vendorchat/internal/handler/report"
	"github.com/medsurplus/vendorchat/internal/middleware"
	authservice "github.com/medsurplus/vendorchat/internal/service/auth"
	marketservice "github.com/medsurplus/vendorchat/internal/service/market"
	reportservice "github.com/medsurplus/vendorchat/internal/service/report"
)

// Deps bundles everything the router mounts. Reports and Market are nil when
// their backends are not configured; their routes are simply not registered.
type Deps struct {
	Logger       *zap.Logger
	Auth         *authservice.Service
	Chat         *chathandler.Handler
	Reports      *reportservice.Service
	Market       *marketservice.Service
	ParentOrigin string
	CORSOrigin   string
}

// NewRouter assembles the HTTP surface.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(deps.CORSOrigin))
	r.Use(middleware.RequestLogger(deps.Logger))

	authhandler.New(deps.Auth, deps.ParentOrigin, deps.Logger).RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(authhandler.RequireSession(deps.Auth))

		deps.Chat.RegisterRoutes(r)

		if deps.Reports != nil {
			reporthandler.New(deps.Reports, deps.Auth, deps.Logger).RegisterRoutes(r)
		}
		if deps.Market != nil {
			markethandler.New(deps.Market, deps.Auth, deps.Logger).RegisterRoutes(r)
		}
	})

	return r
}
