package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
	"warreg/internal/config"
	"warreg/internal/http-server/handlers/codes"
	"warreg/internal/http-server/handlers/errors"
	"warreg/internal/http-server/handlers/register"
	"warreg/internal/http-server/handlers/registrations"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"warreg/internal/http-server/middleware/authenticate"
	"warreg/internal/http-server/middleware/timeout"
	"warreg/lib/sl"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	register.Core
	codes.Core
	registrations.Core
}

func New(conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(15))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	// Public endpoint: customers register a product against a code.
	router.Post("/register", register.New(log, handler))

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Use(authenticate.New(log, handler))
		rootApi.Route("/codes", func(c chi.Router) {
			c.Post("/", codes.Insert(log, handler))
			c.Post("/import", codes.Import(log, handler))
			c.Get("/", codes.List(log, handler))
		})
		rootApi.Route("/registrations", func(reg chi.Router) {
			reg.Get("/", registrations.Search(log, handler))
			reg.Get("/stats", registrations.Stats(log, handler))
			reg.Get("/export", registrations.Export(log, handler))
			reg.Patch("/{id}", registrations.Update(log, handler))
			reg.Delete("/{id}", registrations.Delete(log, handler))
			reg.Post("/{id}/unlink", registrations.Unlink(log, handler))
		})
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      router,
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
