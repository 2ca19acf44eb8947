package attestapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gematik/zero-pop/pkg/attest"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const ReplayNonceHeaderName = "Replay-Nonce"

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) MountRoutes(group *echo.Group) {
	group.Use(
		middleware.Logger(),
		ErrorHandlerMiddleware,
	)

	group.GET("/nonce", s.newNonce)
	group.HEAD("/nonce", s.newReplayNonce)
	group.POST("/verify", s.verifyAttestation)
	group.GET("/stats", s.stats)
}

func ErrorHandlerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err == nil {
			return nil
		}

		var attestErr *attest.Error
		if errors.As(err, &attestErr) {
			slog.Info("Attestation rejected", "kind", attestErr.Kind.String(), "error", err, "remote_addr", c.RealIP())
			return c.JSON(attestErr.HttpStatus(), ErrorResponse{Error: attestErr.Error()})
		}

		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			return c.JSON(echoErr.Code, ErrorResponse{Error: fmt.Sprint(echoErr.Message)})
		}

		slog.Error("Error", "error", err, "path", c.Path(), "remote_addr", c.RealIP())
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func (s *Server) issueNonce(c echo.Context) (string, error) {
	nonce, err := s.Nonces.Issue()
	if err != nil {
		slog.Error("Unable to get nonce", "error", err)
		return "", echo.NewHTTPError(http.StatusInternalServerError, "Unable to get nonce")
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return nonce, nil
}

func (s *Server) newNonce(c echo.Context) error {
	nonce, err := s.issueNonce(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, attest.ChallengeResponse{Nonce: nonce})
}

func (s *Server) newReplayNonce(c echo.Context) error {
	nonce, err := s.issueNonce(c)
	if err != nil {
		return err
	}
	c.Response().Header().Set(ReplayNonceHeaderName, nonce)
	return c.NoContent(http.StatusOK)
}

func (s *Server) verifyAttestation(c echo.Context) error {
	// one byte more than allowed so oversized tokens are reported as such
	limit := int64(s.Verifier.MaxTokenSize()) + 1
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, limit))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Unable to read body")
	}

	attestation, err := s.Verifier.Verify(string(body))
	if err != nil {
		return err
	}

	slog.Debug("Attestation accepted", "thumbprint", attestation.KeyThumbprint, "remote_addr", c.RealIP())
	return c.JSON(http.StatusOK, attest.SubmissionResponse{Status: "success"})
}

func (s *Server) stats(c echo.Context) error {
	stats, err := s.Nonces.Stats()
	if err != nil {
		return fmt.Errorf("nonce stats: %w", err)
	}
	return c.JSON(http.StatusOK, stats)
}
