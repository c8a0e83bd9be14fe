package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/accessrequest"
	"github.com/elskow/portal/internal/api"
	"github.com/elskow/portal/internal/apperror"
	"github.com/elskow/portal/internal/audit"
	"github.com/elskow/portal/internal/auth"
	"github.com/elskow/portal/internal/config"
	"github.com/elskow/portal/internal/metrics"
	"github.com/elskow/portal/internal/ratelimit"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterParams struct {
	fx.In

	Config        *config.AppConfig
	Logger        *zap.Logger
	Gate          *auth.Gate
	Guard         *ratelimit.Guard
	AuthHandler   *auth.Handler
	AccessHandler *accessrequest.Handler
	AuditHandler  *audit.Handler
	Health        Pinger
}

// NewRouter builds the gin engine with every API route.
func NewRouter(p RouterParams) (*gin.Engine, error) {
	if p.Config.Server.Mode != "" {
		gin.SetMode(p.Config.Server.Mode)
	}
	log := p.Logger.Named("http")

	r := gin.New()
	if err := r.SetTrustedProxies(p.Config.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	r.Use(recovery(log), requestLogger(log), metrics.Middleware())
	r.NoRoute(func(c *gin.Context) {
		api.WriteError(c, log, apperror.NotFound("route not found"))
	})

	routes := []route{
		{http.MethodGet, api.Health, "", "", healthHandler(p.Health, log)},
		{http.MethodGet, api.Metrics, "", "", metrics.Handler()},

		{http.MethodPost, api.AuthLogin, ratelimit.BucketLogin, "", p.AuthHandler.Login},
		{http.MethodPost, api.AuthLogout, "", "", p.AuthHandler.Logout},
		{http.MethodPost, api.AuthRefresh, ratelimit.BucketAPI, "", p.AuthHandler.Refresh},
		{http.MethodGet, api.AuthMe, "", "", p.AuthHandler.Me},

		{http.MethodPost, api.AccessRequests, ratelimit.BucketAccessRequest, "", p.AccessHandler.Create},
		{http.MethodGet, api.AccessRequests, ratelimit.BucketReview, auth.CapReviewAccessRequests, p.AccessHandler.List},
		{http.MethodGet, api.AccessRequestByID, ratelimit.BucketReview, auth.CapReviewAccessRequests, p.AccessHandler.Get},
		{http.MethodPatch, api.AccessRequestByID, ratelimit.BucketReview, auth.CapReviewAccessRequests, p.AccessHandler.Review},
		{http.MethodDelete, api.AccessRequestByID, ratelimit.BucketReview, auth.CapDeleteAccessRequests, p.AccessHandler.Delete},

		{http.MethodGet, api.AuditLogs, ratelimit.BucketAPI, auth.CapReadAuditLog, p.AuditHandler.List},
	}
	if err := registerRoutes(r, p.Gate, p.Guard, routes); err != nil {
		return nil, err
	}

	return r, nil
}

type route struct {
	method     string
	path       string
	bucket     ratelimit.Bucket
	capability auth.Capability
	handler    gin.HandlerFunc
}

// registerRoutes mounts routes behind their rate-limit bucket. Routes not
// listed in api.PublicEndpoints go through the gate; with no capability
// any active user passes. Every public endpoint must be registered and
// none may declare a capability.
func registerRoutes(r *gin.Engine, gate *auth.Gate, guard *ratelimit.Guard, routes []route) error {
	registered := make(map[string]bool, len(routes))
	for _, rt := range routes {
		public := api.IsPublic(rt.method, rt.path)
		if public && rt.capability != "" {
			return fmt.Errorf("public route %s %s declares capability %s", rt.method, rt.path, rt.capability)
		}

		var chain []gin.HandlerFunc
		if rt.bucket != "" {
			chain = append(chain, guard.Middleware(rt.bucket))
		}
		switch {
		case public:
		case rt.capability != "":
			chain = append(chain, gate.Require(rt.capability))
		default:
			chain = append(chain, gate.Authenticate())
		}
		chain = append(chain, rt.handler)

		r.Handle(rt.method, rt.path, chain...)
		registered[rt.method+" "+rt.path] = true
	}

	for endpoint := range api.PublicEndpoints {
		if !registered[endpoint] {
			return fmt.Errorf("public endpoint %s has no route", endpoint)
		}
	}
	return nil
}

func healthHandler(db Pinger, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				log.Error("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type HTTPServer struct {
	config *config.AppConfig
	log    *zap.Logger
	server *http.Server
}

func NewHTTPServer(config *config.AppConfig, router *gin.Engine, log *zap.Logger) *HTTPServer {
	addr := fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	return &HTTPServer{
		config: config,
		log:    log.Named("http"),
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  config.Server.ReadTimeout,
			WriteTimeout: config.Server.WriteTimeout,
		},
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *HTTPServer) Start() error {
	s.log.Info("Starting HTTP server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if timeout := s.config.Server.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}
