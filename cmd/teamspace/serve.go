package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/teamspace/internal/api"
	"github.com/alecgard/teamspace/internal/config"
	"github.com/alecgard/teamspace/internal/crypto"
	"github.com/alecgard/teamspace/internal/invite"
	"github.com/alecgard/teamspace/internal/live"
	"github.com/alecgard/teamspace/internal/metrics"
	"github.com/alecgard/teamspace/internal/notify"
	"github.com/alecgard/teamspace/internal/project"
	"github.com/alecgard/teamspace/internal/ratelimit"
	"github.com/alecgard/teamspace/internal/upload"
	"github.com/alecgard/teamspace/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const (
	sessionSweepInterval = time.Hour
	liveEventBuffer      = 16
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Teamspace server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() metrics.PoolStats {
		st := pool.Stat()
		return metrics.PoolStats{
			Total:         st.TotalConns(),
			Idle:          st.IdleConns(),
			Acquired:      st.AcquiredConns(),
			Max:           st.MaxConns(),
			EmptyAcquires: st.EmptyAcquireCount(),
		}
	})

	sink, err := notify.NewSink(cfg.Email)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(sink, cfg.Notify.Workers, cfg.Notify.QueueSize, cfg.Notify.SendTimeout, m)
	dispatcher.Start()

	hub := live.NewHub(liveEventBuffer, m)

	sealer, err := crypto.NewSealer(cfg.Auth.CookieKey)
	if err != nil {
		return err
	}
	if sealer == nil {
		slog.Warn("auth.cookie_key is not set; the pending invite cookie is stored unsealed")
	}

	userStore := user.NewStore(pool, cfg.Auth.SessionTTL)
	projects := project.NewService(project.NewStore(pool, m), userStore, dispatcher, hub, m)

	inviteLimiter := ratelimit.New(cfg.Invites.PerUser, cfg.Invites.Window)
	invites := invite.NewService(invite.NewStore(pool), projects, userStore, dispatcher, inviteLimiter, cfg.InviteLink, m)

	disk, err := upload.NewDiskStorage(cfg.Uploads.Dir, cfg.Uploads.MaxSize)
	if err != nil {
		return err
	}
	uploads := upload.NewService(upload.NewStore(pool), disk, projects, hub, m)

	authLimiter := ratelimit.New(cfg.RateLimit.Auth, cfg.RateLimit.Window)
	uploadLimiter := ratelimit.New(cfg.RateLimit.Uploads, cfg.RateLimit.Window)

	router := api.NewRouter(api.RouterDeps{
		DBPool:         pool,
		Accounts:       userStore,
		Sessions:       user.NewAuthAdapter(userStore),
		Projects:       projects,
		Invites:        invites,
		Uploads:        uploads,
		Hub:            hub,
		Metrics:        m,
		AuthLimiter:    authLimiter,
		UploadLimiter:  uploadLimiter,
		Sealer:         sealer,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		SecureCookie:   cfg.Auth.SecureCookie,
		SessionTTL:     cfg.Auth.SessionTTL,
		MaxUploadSize:  cfg.Uploads.MaxSize,
	})

	go sweepSessions(ctx, userStore)
	go sweepLimiters(ctx, cfg.RateLimit.Window, authLimiter, uploadLimiter, inviteLimiter)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "email_provider", cfg.Email.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
	case err := <-errCh:
		slog.Error("server error", "error", err)
		dispatcher.Stop()
		return err
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Event streams only end when the hub closes their channels.
	hub.Close()
	err = srv.Shutdown(shutdownCtx)
	cancel()
	dispatcher.Stop()
	return err
}

func sweepSessions(ctx context.Context, store *user.Store) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.CleanExpiredSessions(ctx)
			if err != nil {
				slog.Error("cleaning expired sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired sessions removed", "count", n)
			}
		}
	}
}

func sweepLimiters(ctx context.Context, every time.Duration, limiters ...*ratelimit.Limiter) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range limiters {
				l.Sweep()
			}
		}
	}
}
