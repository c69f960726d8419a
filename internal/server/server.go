package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/server/api"
	"github.com/looplj/agentpay/internal/server/biz"
	"github.com/looplj/agentpay/internal/server/dependencies"
	"github.com/looplj/agentpay/internal/server/middleware"
	"github.com/looplj/agentpay/internal/server/reconcile"
	"github.com/looplj/agentpay/internal/tracing"
)

func New(config Config) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())

	return &Server{
		Config: config,
		Engine: engine,
	}
}

type Server struct {
	*gin.Engine

	Config Config
	server *http.Server
}

func (srv *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", srv.Config.Host, srv.Config.Port)

	log.Info(context.Background(), "run server",
		log.String("name", srv.Config.Name),
		log.String("addr", addr),
	)

	srv.server = &http.Server{
		Addr:         addr,
		Handler:      srv.Engine,
		ReadTimeout:  srv.Config.ReadTimeout,
		WriteTimeout: max(srv.Config.RequestTimeout, srv.Config.ExecuteTimeout),
	}

	err := srv.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.server == nil {
		return nil
	}

	return srv.server.Shutdown(ctx)
}

// Run builds the application graph and blocks until it receives a stop signal.
func Run(opts ...fx.Option) {
	app := fx.New(
		append([]fx.Option{
			fx.NopLogger,
			fx.Provide(New),
			dependencies.Module,
			fx.Invoke(func(logger *log.Logger) {
				tracing.SetupLogger(logger)
				log.SetGlobalLogger(logger)
			}),
			biz.Module,
			api.Module,
			reconcile.Module,
			fx.Invoke(SetupRoutes),
		}, opts...)...,
	)
	app.Run()
}
