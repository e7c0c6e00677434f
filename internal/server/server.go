package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/slidewire/slidewire/internal/collab"
	"github.com/slidewire/slidewire/internal/event"
	"github.com/slidewire/slidewire/internal/hub"
	"github.com/slidewire/slidewire/internal/quiz"
	"github.com/slidewire/slidewire/internal/ratelimit"
	"github.com/slidewire/slidewire/internal/session"
	"github.com/slidewire/slidewire/internal/store"
	"github.com/slidewire/slidewire/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port      int32
		ServerURL string
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Limits struct {
		MessagesPerMinute int
		ActionsPerMinute  int
	}

	Session struct {
		GraceSeconds int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		registry   *session.Registry
		aggregator *quiz.Aggregator
		collab     *collab.Service
		limiter    *ratelimit.Limiter
		router     *hub.Router
		hub        *hub.Hub
		archive    *store.Archive
		mirror     *store.Mirror
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

// initInfra connects the optional backing stores. Empty config means the
// corresponding sink is simply not wired; the hub runs fully in memory.
func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	if len(s.c.Redis.Addrs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	if s.c.Postgres.Addr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.service.registry = session.NewRegistry(session.RegistryConfig{
		GracePeriod: time.Duration(s.c.Session.GraceSeconds) * time.Second,
	})

	s.service.router = hub.NewRouter()

	s.service.aggregator = quiz.New(quiz.Config{
		EventBus:    s.eb,
		Broadcaster: s.service.router,
	})

	// a session's debounce timers must die before the session does
	s.service.registry.SetOnEnd(s.service.aggregator.CancelSession)

	s.service.collab = collab.New(collab.Config{})

	s.service.limiter = ratelimit.New(ratelimit.Config{
		MessageLimit: s.c.Limits.MessagesPerMinute,
		ActionLimit:  s.c.Limits.ActionsPerMinute,
	})

	s.service.hub = hub.New(hub.Config{
		Registry:   s.service.registry,
		Aggregator: s.service.aggregator,
		Collab:     s.service.collab,
		Limiter:    s.service.limiter,
		Router:     s.service.router,
		EventBus:   s.eb,
		ServerURL:  s.c.HTTP.ServerURL,
	})

	if s.infra.postgres != nil {
		s.service.archive = store.NewArchive(store.ArchiveConfig{
			EventBus: s.eb,
			DB:       s.infra.postgres,
		})
	}

	if s.infra.redis != nil {
		s.service.mirror = store.NewMirror(store.MirrorConfig{
			EventBus: s.eb,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})
	}
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": s.service.registry.Live(),
			"rooms":    s.service.collab.Rooms(),
		})
	})

	e.GET("/ws", s.service.hub.HandleWS)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.service.hub.Close()
	s.service.registry.Stop()
	s.service.aggregator.Stop()

	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
