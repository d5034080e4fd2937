package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"bracket-engine/internal/auth"
	"bracket-engine/internal/bracket"
	"bracket-engine/internal/challonge"
	"bracket-engine/internal/db"
	"bracket-engine/internal/history"
	"bracket-engine/internal/locks"
	"bracket-engine/internal/metrics"
	"bracket-engine/internal/middleware"
	"bracket-engine/internal/ranking"
	"bracket-engine/internal/redis"
	"bracket-engine/internal/server/gateway"
	"bracket-engine/internal/server/handlers"
	"bracket-engine/internal/store"
	"bracket-engine/internal/tournament"
)

// Server holds all dependencies and configuration for the engine
type Server struct {
	config Config
	db     *db.DB
	rdb    *redis.Client

	store       *store.Store
	authService *auth.Service
	guard       *locks.Guard
	hub         *gateway.Hub
	manager     *tournament.Manager
	limiter     *middleware.RateLimiter
}

// NewServer creates and initializes a new Server instance
func NewServer(config Config) (*Server, error) {
	database, err := db.New(config.DBConfig)
	if err != nil {
		return nil, err
	}

	// Redis is optional. Configured but unreachable is fatal; not
	// configured means the guild guard runs in-process.
	var rdb *redis.Client
	if config.RedisConfig.Host != "" {
		rdb, err = redis.New(config.RedisConfig)
		if err != nil {
			return nil, err
		}
	}
	guard := locks.NewGuard(nil)
	if rdb != nil {
		guard = locks.NewGuard(rdb.Client)
	}

	st := store.New(database)
	authSvc := auth.NewService(config.JWTSecret)
	hub := gateway.NewHub()

	providers := func(ref string) bracket.Client {
		return challonge.New(config.Challonge, ref)
	}
	var rankings tournament.RankingFactory
	if config.RankingURL != "" {
		rankings = func(cfg tournament.RankingSettings) tournament.RankingSource {
			return ranking.New(ranking.Config{URL: leagueURL(config.RankingURL, cfg)})
		}
	}
	mgr := tournament.NewManager(st, providers, hub.NotifierFor, rankings)
	mgr.SetJournal(history.New(database))

	// Channel activity reported by the bridge feeds the AFK check.
	hub.OnSpoke(func(guildID, userID string) {
		if t, ok := mgr.Get(guildID); ok {
			t.MarkSpoke(userID)
		}
	})

	return &Server{
		config:      config,
		db:          database,
		rdb:         rdb,
		store:       st,
		authService: authSvc,
		guard:       guard,
		hub:         hub,
		manager:     mgr,
		limiter:     middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig),
	}, nil
}

// leagueURL points the shared ranking export at one league's CSV.
func leagueURL(base string, cfg tournament.RankingSettings) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	league := cfg.LeagueID
	if league == "" {
		league = cfg.LeagueName
	}
	q := u.Query()
	q.Set("league", league)
	u.RawQuery = q.Encode()
	return u.String()
}

// Run restores saved tournaments, starts the HTTP server and blocks until
// a shutdown signal arrives.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.restoreSaved(ctx)

	// Set Gin mode based on environment
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:    ":" + s.config.ServerPort,
		Handler: s.setupRoutes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s", s.config.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("[SERVER] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[SERVER] HTTP shutdown: %v", err)
	}

	s.manager.Shutdown()
	s.hub.Shutdown()
	s.guard.ReleaseAll()
	s.limiter.Stop()
	return nil
}

// restoreSaved brings saved tournaments back after a restart, then claims
// their guild holds. A guild another instance already owns is let go
// again without touching its saved state.
func (s *Server) restoreSaved(ctx context.Context) {
	if err := s.manager.RestoreAll(ctx); err != nil {
		log.Printf("[SERVER] State restore failed: %v", err)
		return
	}
	for _, view := range s.manager.List() {
		if err := s.guard.HoldGuild(ctx, view.GuildID); err != nil {
			log.Printf("[SERVER] Guild %s is held elsewhere, letting go: %v", view.GuildID, err)
			s.manager.Forget(view.GuildID)
		}
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *gin.Engine {
	r := gin.Default()

	// Configure CORS
	corsConfig := cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true // Allow all origins
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400 * time.Second,
	}
	r.Use(cors.New(corsConfig))

	// Public routes
	r.POST("/api/auth/login", func(c *gin.Context) { handlers.HandleLogin(c, s.store, s.authService) })

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Bridge socket; the token travels as a query parameter.
	r.GET("/ws", func(c *gin.Context) { gateway.HandleBridgeSocket(c, s.hub, s.authService) })

	// Admin routes: operator accounts and bridge tokens
	admin := r.Group("/api/admin", middleware.RequireAuth(s.authService, auth.RoleAdmin))
	{
		admin.POST("/operators", func(c *gin.Context) { handlers.HandleRegisterOperator(c, s.store, s.authService) })
		admin.GET("/guilds/:guild/bridge-token", func(c *gin.Context) { handlers.HandleBridgeToken(c, s.authService) })
	}

	api := r.Group("/api", s.limiter.Middleware())

	// Operator routes
	ops := api.Group("/", middleware.RequireAuth(s.authService, auth.RoleTO, auth.RoleAdmin))
	ops.GET("/tournaments", func(c *gin.Context) { handlers.HandleList(c, s.manager) })

	guild := ops.Group("/guilds/:guild", middleware.RequireGuildAccess())
	{
		// Lifecycle
		guild.POST("/tournament", func(c *gin.Context) { handlers.HandleSetup(c, s.manager, s.guard) })
		guild.POST("/tournament/resume", func(c *gin.Context) { handlers.HandleResume(c, s.manager, s.guard) })
		guild.GET("/tournament", func(c *gin.Context) { handlers.HandleStatus(c, s.manager) })
		guild.POST("/tournament/start", func(c *gin.Context) { handlers.HandleStart(c, s.manager) })
		guild.POST("/tournament/end", func(c *gin.Context) { handlers.HandleEnd(c, s.manager, s.guard) })
		guild.DELETE("/tournament", func(c *gin.Context) { handlers.HandleDrop(c, s.manager, s.guard) })
		guild.POST("/tournament/save", func(c *gin.Context) { handlers.HandleSaveNow(c, s.manager) })
		guild.POST("/tournament/loop/resume", func(c *gin.Context) { handlers.HandleResumeLoop(c, s.manager) })
		guild.POST("/tournament/loop/stop", func(c *gin.Context) { handlers.HandleStopLoop(c, s.manager) })

		// Registration and check-in windows
		guild.POST("/tournament/registration/start", func(c *gin.Context) { handlers.HandleStartRegistration(c, s.manager) })
		guild.POST("/tournament/registration/end", func(c *gin.Context) { handlers.HandleEndRegistration(c, s.manager) })
		guild.POST("/tournament/checkin/start", func(c *gin.Context) { handlers.HandleStartCheckin(c, s.manager) })
		guild.POST("/tournament/checkin/call", func(c *gin.Context) { handlers.HandleCallCheckin(c, s.manager) })
		guild.POST("/tournament/checkin/end", func(c *gin.Context) { handlers.HandleEndCheckin(c, s.manager) })

		// Bracket management
		guild.GET("/tournament/participants", func(c *gin.Context) { handlers.HandleRoster(c, s.manager) })
		guild.POST("/tournament/participants/:user/disqualify", func(c *gin.Context) { handlers.HandleDisqualify(c, s.manager) })
		guild.POST("/tournament/upload", func(c *gin.Context) { handlers.HandleUpload(c, s.manager) })
		guild.POST("/tournament/reset", func(c *gin.Context) { handlers.HandleResetBracket(c, s.manager) })
		guild.GET("/tournament/matches", func(c *gin.Context) { handlers.HandleMatches(c, s.manager) })

		// Audit trail
		guild.GET("/tournament/history", func(c *gin.Context) {
			history.GetCurrentHistory(c, s.db, func(guildID string) (int64, bool) {
				t, ok := s.manager.Get(guildID)
				if !ok {
					return 0, false
				}
				return t.ID, true
			})
		})
		guild.GET("/tournament/history/all", func(c *gin.Context) { history.GetGuildHistory(c, s.db) })

		// Streamer queues
		guild.GET("/tournament/streamers", func(c *gin.Context) { handlers.HandleStreamers(c, s.manager) })
		guild.POST("/tournament/streamers", func(c *gin.Context) { handlers.HandleAddStreamer(c, s.manager) })
		guild.PUT("/tournament/streamers/:owner/room", func(c *gin.Context) { handlers.HandleStreamRoom(c, s.manager) })
		guild.POST("/tournament/streamers/:owner/queue", func(c *gin.Context) { handlers.HandleQueueSets(c, s.manager) })
		guild.POST("/tournament/streamers/:owner/swap", func(c *gin.Context) { handlers.HandleSwapSets(c, s.manager) })
		guild.POST("/tournament/streamers/:owner/insert", func(c *gin.Context) { handlers.HandleInsertSet(c, s.manager) })
		guild.POST("/tournament/streamers/:owner/remove", func(c *gin.Context) { handlers.HandleRemoveSets(c, s.manager) })
		guild.DELETE("/tournament/streamers/:owner", func(c *gin.Context) { handlers.HandleEndStream(c, s.manager) })

		// Settings documents
		guild.GET("/settings", func(c *gin.Context) { handlers.HandleListSettings(c, s.store) })
		guild.POST("/settings", func(c *gin.Context) { handlers.HandleSaveSettings(c, s.store) })
		guild.GET("/settings/:name", func(c *gin.Context) { handlers.HandleGetSettings(c, s.store) })
		guild.DELETE("/settings/:name", func(c *gin.Context) { handlers.HandleDeleteSettings(c, s.store) })
	}

	// Chat-facing intents. The bridge relays these on behalf of players,
	// so bridge tokens may call them too.
	intents := api.Group("/guilds/:guild",
		middleware.RequireAuth(s.authService, auth.RoleTO, auth.RoleAdmin, auth.RoleBridge),
		middleware.RequireGuildAccess())
	{
		intents.POST("/tournament/participants", func(c *gin.Context) { handlers.HandleRegisterParticipant(c, s.manager) })
		intents.DELETE("/tournament/participants/:user", func(c *gin.Context) { handlers.HandleUnregister(c, s.manager) })
		intents.POST("/tournament/participants/:user/checkin", func(c *gin.Context) { handlers.HandleCheckIn(c, s.manager) })
		intents.POST("/tournament/participants/:user/forfeit", func(c *gin.Context) { handlers.HandleForfeit(c, s.manager) })
		intents.POST("/tournament/matches/report", func(c *gin.Context) { handlers.HandleReportScore(c, s.manager) })
	}

	return r
}

// Close cleanly shuts down the server
func (s *Server) Close() error {
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			log.Printf("[SERVER] Redis close: %v", err)
		}
	}
	sqlDB, err := s.db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
