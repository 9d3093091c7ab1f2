// Package server provides the main HTTP server implementation: route
// wiring, lazy account-pool initialization, and graceful startup/shutdown
// timeouts tuned for long-running streamed completions.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/account"
	"github.com/poemonsense/antigravity-proxy-go/internal/cloudcode"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/format"
	"github.com/poemonsense/antigravity-proxy-go/internal/server/handlers"
	"github.com/poemonsense/antigravity-proxy-go/internal/usertoken"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"
)

// Server is the main HTTP server: a Gin engine plus the account pool and
// CloudCode client it initializes lazily on first request.
type Server struct {
	engine           *gin.Engine
	accountManager   *account.Manager
	cloudCodeClient  *cloudcode.Client
	cfg              *config.Config
	userTokenStore   *usertoken.Store
	fallbackEnabled  bool
	strategyOverride string

	initOnce    sync.Once
	initError   error
	initialized bool
}

// Options holds server construction options.
type Options struct {
	FallbackEnabled  bool
	StrategyOverride string
	Debug            bool
}

// New creates a new Server. Routes are not wired until SetupRoutes or Run.
func New(cfg *config.Config, accountManager *account.Manager, opts Options) *Server {
	if opts.Debug || cfg.DevMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())

	return &Server{
		engine:           engine,
		accountManager:   accountManager,
		cfg:              cfg,
		fallbackEnabled:  opts.FallbackEnabled,
		strategyOverride: opts.StrategyOverride,
	}
}

// SetUserTokenStore attaches the user-token store used by UserTokenMiddleware.
// Call before SetupRoutes. A nil store leaves token enforcement a no-op.
func (s *Server) SetUserTokenStore(store *usertoken.Store) {
	s.userTokenStore = store
}

// Initialize loads the account pool and creates the CloudCode client. Safe
// to call repeatedly; only the first call does work.
func (s *Server) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		if err := s.accountManager.Initialize(ctx, s.strategyOverride); err != nil {
			s.initError = err
			utils.Error("[Server] Failed to initialize account manager: %v", err)
			return
		}

		s.cloudCodeClient = cloudcode.NewClient(s.accountManager, s.cfg)

		status := s.accountManager.GetStatus()
		utils.Success("[Server] Account pool initialized: %s", status.Summary)

		s.initialized = true
	})

	return s.initError
}

// ensureInitialized lazily initializes the server on the first request that
// needs the account pool, writing a 503 and returning false on failure.
func (s *Server) ensureInitialized(c *gin.Context) bool {
	if s.initialized {
		return true
	}

	if err := s.Initialize(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": "Server not initialized: " + err.Error(),
			},
		})
		return false
	}

	return true
}

// SetupRoutes wires all HTTP routes onto the engine.
func (s *Server) SetupRoutes() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(SilentHandlerMiddleware())
	s.engine.Use(RequestLoggingMiddleware())

	s.engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.RequestBodyLimit)
		c.Next()
	})

	healthHandler := handlers.NewHealthHandler(s.accountManager)
	modelsHandler := handlers.NewModelsHandler(s.accountManager)
	accountsHandler := handlers.NewAccountsHandler(s.accountManager, s.cfg)
	messagesHandler := handlers.NewMessagesHandler(
		s.accountManager,
		s.cloudCodeClient,
		s.cfg,
		s.fallbackEnabled,
	)
	refreshHandler := handlers.NewRefreshTokenHandler(s.accountManager)
	openaiHandler := handlers.NewOpenAIHandler(
		s.accountManager,
		s.cloudCodeClient,
		s.cfg,
		s.fallbackEnabled,
	)
	geminiHandler := handlers.NewGeminiHandler(
		s.accountManager,
		s.cloudCodeClient,
		s.cfg,
		s.fallbackEnabled,
	)
	modelDetectHandler := handlers.NewModelDetectHandler(s.cfg)

	// Claude Code probes the root endpoint on startup; answer it so clients
	// don't treat the proxy as unreachable.
	s.engine.POST("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.POST("/test/clear-signature-cache", func(c *gin.Context) {
		format.ClearThinkingSignatureCache()
		utils.Debug("[Test] Cleared thinking signature cache")
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Thinking signature cache cleared",
		})
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		healthHandler.Health(c)
	})

	s.engine.GET("/account-limits", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		accountsHandler.AccountLimits(c)
	})

	s.engine.POST("/refresh-token", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		refreshHandler.RefreshToken(c)
	})

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.cfg))
	v1.Use(UserTokenMiddleware(s.cfg, s.userTokenStore))
	{
		v1.GET("/models", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			modelsHandler.ListModels(c)
		})

		v1.POST("/messages/count_tokens", messagesHandler.CountTokens)

		v1.POST("/messages", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			messagesHandler.Messages(c)
		})

		v1.GET("/models/detect", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			modelDetectHandler.Detect(c)
		})

		v1.POST("/chat/completions", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			openaiHandler.ChatCompletions(c)
		})

		v1.POST("/completions", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			openaiHandler.Completions(c)
		})

		v1.POST("/responses", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			openaiHandler.Responses(c)
		})
	}

	v1beta := s.engine.Group("/v1beta")
	v1beta.Use(APIKeyAuthMiddleware(s.cfg))
	v1beta.Use(UserTokenMiddleware(s.cfg, s.userTokenStore))
	{
		v1beta.GET("/models", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			modelsHandler.ListModelsGemini(c)
		})

		v1beta.POST("/models/:modelAndAction", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			geminiHandler.GenerateContent(c)
		})
	}

	s.engine.NoRoute(func(c *gin.Context) {
		if utils.IsDebug() {
			utils.Debug("[API] 404 Not Found: %s %s", c.Request.Method, c.Request.URL.Path)
		}
		c.JSON(http.StatusNotFound, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "not_found_error",
				"message": fmt.Sprintf("Endpoint %s %s not found", c.Request.Method, c.Request.URL.Path),
			},
		})
	})
}

// Run wires routes and blocks serving HTTP on addr. Write timeout is long
// to accommodate slow-streamed completions.
func (s *Server) Run(addr string) error {
	s.SetupRoutes()

	utils.Info("[Server] Starting on %s", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return srv.ListenAndServe()
}

// Engine returns the underlying Gin engine, useful for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// GetAccountManager returns the server's account manager.
func (s *Server) GetAccountManager() *account.Manager {
	return s.accountManager
}
