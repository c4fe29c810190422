package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"identity-ledger/service"
)

type Options struct {
	Debug  bool
	Port   int
	Origin string
	// QueueWait bounds how long a handler waits for a queued transaction.
	QueueWait time.Duration
}

type Server struct {
	svc    *service.IdentityService
	queue  *service.QueueProcessor
	opts   Options
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the router. queue may be nil, in which case transactions
// are submitted inline.
func NewServer(svc *service.IdentityService, queue *service.QueueProcessor, opts Options) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.QueueWait <= 0 {
		opts.QueueWait = 10 * time.Second
	}

	s := &Server{svc: svc, queue: queue, opts: opts}

	router := gin.New()
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.Use(Recovery())

	corsConfig := cors.DefaultConfig()
	if opts.Origin != "" {
		corsConfig.AllowOrigins = []string{opts.Origin}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Accept", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	s.router = router
	s.setupRoutes()
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		identity := api.Group("/identity")
		identity.POST("/register", s.handleRegisterIdentity)
		identity.POST("/rotate", s.handleRotateToken)

		api.POST("/kyc", s.handleVerifyKYC)
		api.POST("/photo", s.handleSavePhoto)
		api.POST("/phone/send", s.handleSendPhoneCode)
		api.POST("/phone/verify", s.handleConfirmPhone)
		api.GET("/verification/:publicKey", s.handleGetVerification)

		api.POST("/transactions", s.handleSubmitTransaction)
		api.GET("/transactions/:publicKey", s.handleGetHistory)

		api.POST("/badges", s.handleMintBadge)
		api.GET("/badges/:owner", s.handleListBadges)

		api.POST("/wallet/export", s.handleExportWallet)
		api.POST("/wallet/import", s.handleImportWallet)

		chain := api.Group("/chain")
		chain.GET("", s.handleGetChainInfo)
		chain.GET("/export", s.handleExportChain)
		chain.POST("/import", s.handleImportChain)
		chain.GET("/validate", s.handleValidateChain)
		chain.POST("/snapshot", s.handleSnapshot)
		chain.GET("/block/:hash", s.handleGetBlockDetails)

		api.GET("/metrics", s.handleGetMetrics)
		api.GET("/health", s.handleHealth)
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.opts.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Info().Int("port", s.opts.Port).Msg("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
