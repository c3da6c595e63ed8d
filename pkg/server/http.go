package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/middleware"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(
		NewEngine,
		fx.Annotate(NewAPIGroup, fx.ResultTags(`name:"api"`)),
		NewHttpServer,
	),
	fx.Invoke(Run),
)

type Server struct {
	server   *http.Server
	tlsMutex sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string
}

type engineParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

// NewEngine builds the root router. Every route gets panic recovery, error
// rendering, caller identity, metrics and the per-caller rate limit.
func NewEngine(p engineParams) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.Tracing(),
		middleware.Error(),
		middleware.IdentityContext(),
		middleware.Metrics(),
	)

	if rl := p.Config.RateLimit; rl.RPS > 0 {
		limiter := middleware.NewRateLimiter(rl.RPS, rl.Burst)
		r.Use(limiter.Handler())

		ctx, cancel := context.WithCancel(context.Background())
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				limiter.StartCleanup(ctx, time.Minute)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}

	return r
}

func NewAPIGroup(r *gin.Engine) *gin.RouterGroup {
	return r.Group("/api")
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *gin.Engine
}

func NewHttpServer(p Params) *Server {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
			Handler:      p.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		certPath: cfg.TLS.CertPath,
		keyPath:  cfg.TLS.KeyPath,
	}

	if cfg.TLS.Enable {
		srv.reloadCert()
		go srv.watchTLSFiles()

		srv.server.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: srv.getCertificate,
		}
	}

	return srv
}

func (s *Server) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.tlsMutex.RLock()
	defer s.tlsMutex.RUnlock()

	if s.cert == nil {
		return nil, fmt.Errorf("no TLS cert loaded")
	}
	return s.cert, nil
}

func (s *Server) reloadCert() {
	cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
	if err != nil {
		zap.L().Error("failed to reload TLS cert", zap.Error(err))
		return
	}
	s.tlsMutex.Lock()
	s.cert = &cert
	s.tlsMutex.Unlock()
	zap.L().Info("TLS certificate reloaded")
}

// watchTLSFiles reloads the key pair whenever either file is rewritten, so
// rotated certificates are served without a restart.
func (s *Server) watchTLSFiles() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.L().Error("failed to create fsnotify watcher", zap.Error(err))
		return
	}
	defer watcher.Close()

	_ = watcher.Add(s.certPath)
	_ = watcher.Add(s.keyPath)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				s.reloadCert()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("watcher error", zap.Error(err))
		}
	}
}

func (s *Server) serve() {
	var err error
	if s.server.TLSConfig != nil {
		zap.L().Info("Starting HTTP server with tls", zap.String("addr", s.server.Addr))
		err = s.server.ListenAndServeTLS("", "")
	} else {
		zap.L().Info("Starting HTTP server", zap.String("addr", s.server.Addr))
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.L().Error("HTTP server exited", zap.Error(err))
	}
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.serve()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server gracefully...")
			return srv.server.Shutdown(ctx)
		},
	})
}
