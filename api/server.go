package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/optigate/common/apiutil"
	"github.com/Aidin1998/optigate/internal/auth"
	"github.com/Aidin1998/optigate/internal/backend"
	"github.com/Aidin1998/optigate/internal/history"
	"github.com/Aidin1998/optigate/internal/optimizer"
	"github.com/Aidin1998/optigate/internal/prompt"
)

// Optimizer is the core call the HTTP layer translates.
type Optimizer interface {
	Optimize(ctx context.Context, req optimizer.Request, clientID string) optimizer.Outcome
	Templates() []prompt.Template
	BackendKind() backend.Kind
}

// HistoryReader lists a client's recent completions.
type HistoryReader interface {
	Recent(ctx context.Context, clientID string) ([]history.Entry, error)
}

// Options wires a Server. Optimizer and Resolver are required; History is
// optional and disables GET /api/v1/history when nil.
type Options struct {
	Logger         *zap.Logger
	Optimizer      Optimizer
	Resolver       auth.Resolver
	History        HistoryReader
	ServiceName    string
	CORSOrigins    []string
	TrustedProxies []string
}

// Server represents the API server
type Server struct {
	router    *gin.Engine
	logger    *zap.Logger
	optimizer Optimizer
	resolver  auth.Resolver
	history   HistoryReader
	validator *apiutil.Validator
}

// NewServer creates the gateway router.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = auth.AddressResolver{}
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "optigate"
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	server := &Server{
		logger:    opts.Logger,
		optimizer: opts.Optimizer,
		resolver:  opts.Resolver,
		history:   opts.History,
		validator: apiutil.NewValidator(),
	}

	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		opts.Logger.Warn("invalid trusted proxies, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(apiutil.RequestIDMiddleware())
	router.Use(ginzap.Ginzap(opts.Logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(opts.Logger, true))
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(apiutil.MetricsMiddleware())
	router.Use(apiutil.RFC7807ErrorMiddleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", apiutil.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", apiutil.RequestIDHeader},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	server.router = router
	server.registerRoutes()
	return server
}

// Router returns the internal Gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := s.router.Group("/api/v1")
	{
		public.GET("/health", s.healthCheck)
		public.GET("/actions", s.listActions)
	}

	identified := s.router.Group("/api/v1")
	identified.Use(s.identityMiddleware())
	{
		identified.POST("/optimize", s.optimize)
		identified.GET("/history", s.listHistory)
	}

	s.router.NoRoute(func(c *gin.Context) {
		apiutil.RFC7807NotFoundResponse(c, "route not found")
	})
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
