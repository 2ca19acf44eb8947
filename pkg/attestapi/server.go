package attestapi

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gematik/zero-pop/pkg/attest"
	"github.com/gematik/zero-pop/pkg/config"
	"github.com/gematik/zero-pop/pkg/nonce"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server owns the nonce service and the verifier built from it.
type Server struct {
	Address  string
	Nonces   nonce.Service
	Verifier *attest.Verifier
}

func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	nonces, err := nonce.New(cfg.NonceOptions())
	if err != nil {
		return nil, fmt.Errorf("create nonce service: %w", err)
	}

	server := NewWithService(nonces, attest.WithMaxTokenSize(cfg.MaxTokenSize))
	server.Address = cfg.Address
	return server, nil
}

func NewWithService(nonces nonce.Service, opts ...attest.VerifierOption) *Server {
	return &Server{
		Nonces:   nonces,
		Verifier: attest.NewVerifier(nonces, opts...),
	}
}

// Echo returns a root echo instance with all routes mounted.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	s.MountRoutes(e.Group(""))

	for _, route := range e.Routes() {
		slog.Debug("Route", "method", route.Method, "path", route.Path)
	}
	return e
}

func (s *Server) Close() error {
	if closer, ok := s.Nonces.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
