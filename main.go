package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskwell/mailsync/internal/analyze"
	"github.com/taskwell/mailsync/internal/auth"
	"github.com/taskwell/mailsync/internal/config"
	"github.com/taskwell/mailsync/internal/events"
	"github.com/taskwell/mailsync/internal/extract"
	"github.com/taskwell/mailsync/internal/model"
	"github.com/taskwell/mailsync/internal/provider"
	"github.com/taskwell/mailsync/internal/store"
	syncsvc "github.com/taskwell/mailsync/internal/sync"
)

type app struct {
	cfg     *config.Config
	store   *store.Store
	factory *syncsvc.Factory
	manager *analyze.Manager
	log     *zap.Logger
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfgPath := os.Getenv("MAILSYNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	pub, err := events.NewPublisher(cfg.NATSURL)
	if err != nil {
		log.Fatal("connect NATS", zap.Error(err))
	}
	defer pub.Close()
	if err := pub.EnsureStream(ctx); err != nil {
		log.Fatal("ensure stream", zap.Error(err))
	}
	go events.NewDispatcher(st, pub, log).Run(ctx)

	verifier, err := auth.NewJWTVerifier(ctx, cfg.JWKSURL)
	if err != nil {
		log.Fatal("init JWT verifier", zap.Error(err))
	}

	a := &app{
		cfg:     cfg,
		store:   st,
		factory: syncsvc.NewFactory(cfg, st, log),
		manager: analyze.NewManager(analyze.NewAnalyzer(st, extract.NewEngine(), log), log),
		log:     log,
	}

	r := gin.Default()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(authMiddleware(verifier))
	v1.POST("/sync/:provider", a.handleSync)
	v1.POST("/analyze/:provider", a.handleAnalyze)
	v1.GET("/emails/new-count/:provider", a.handleNewCount)
	v1.GET("/emails/ignored", a.handleIgnored)
	v1.GET("/status/:provider", a.handleStatus)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info("listening", zap.String("addr", cfg.HTTPAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve", zap.Error(err))
	}
}

func (a *app) handleSync(c *gin.Context) {
	p, ok := parseProvider(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	userID := c.GetString("user_id")

	mp, err := a.factory.Provider(c.Request.Context(), userID, p)
	if err != nil {
		writeProviderError(c, err)
		return
	}
	defer mp.Disconnect()

	created, err := mp.FetchNewEmails(c.Request.Context(), provider.FetchOptions{})
	if err != nil {
		writeProviderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"new_emails": len(created),
		"emails":     created,
	})
}

func (a *app) handleAnalyze(c *gin.Context) {
	p, ok := parseProvider(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	userID := c.GetString("user_id")

	mp, err := a.factory.Provider(c.Request.Context(), userID, p)
	if err != nil {
		writeProviderError(c, err)
		return
	}
	defer mp.Disconnect()

	res, err := a.manager.Run(c.Request.Context(), mp, userID, string(p))
	if err != nil {
		if errors.Is(err, analyze.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		writeProviderError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (a *app) handleNewCount(c *gin.Context) {
	p, ok := parseProvider(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	userID := c.GetString("user_id")

	mp, err := a.factory.Provider(c.Request.Context(), userID, p)
	if err != nil {
		writeProviderError(c, err)
		return
	}
	defer mp.Disconnect()

	count, err := mp.CountNewEmails(c.Request.Context())
	if err != nil {
		writeProviderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (a *app) handleIgnored(c *gin.Context) {
	userID := c.GetString("user_id")

	emails, err := a.store.ListIgnoredEmails(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"emails": emails})
}

func (a *app) handleStatus(c *gin.Context) {
	p, ok := parseProvider(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	userID := c.GetString("user_id")

	mp, err := a.factory.Provider(c.Request.Context(), userID, p)
	if err != nil {
		c.JSON(http.StatusOK, provider.Status{IsConnected: false, LastError: err.Error()})
		return
	}
	defer mp.Disconnect()

	c.JSON(http.StatusOK, mp.GetStatus())
}

func authMiddleware(verifier *auth.JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.UserFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Set("user_id", user.ID)
		c.Next()
	}
}

func parseProvider(s string) (model.Provider, bool) {
	switch strings.ToUpper(s) {
	case string(model.ProviderGmail):
		return model.ProviderGmail, true
	case string(model.ProviderIMAP):
		return model.ProviderIMAP, true
	case string(model.ProviderGraph):
		return model.ProviderGraph, true
	}
	return "", false
}

// writeProviderError maps provider failures to HTTP statuses: missing
// or dead grants ask the client to re-authorize, throttles surface as
// 429, anything else is a 502 from the backend's side.
func writeProviderError(c *gin.Context, err error) {
	var rl *provider.RateLimitError
	switch {
	case errors.Is(err, provider.ErrProviderUnavailable),
		errors.Is(err, provider.ErrReconnectRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "reconnect_required": true})
	case errors.As(err, &rl):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
