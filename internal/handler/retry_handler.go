package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/dealerops/notify-engine/internal/retry"
	"github.com/gofiber/fiber/v2"
)

type RetryService interface {
	RunOnce(ctx context.Context) (*retry.Report, error)
}

// RetryHandler exposes a manual trigger for a retry sweep, guarded by a
// static bearer token so only the scheduler infrastructure can call it.
type RetryHandler struct {
	service RetryService
	token   string
}

func NewRetryHandler(service RetryService, token string) (*RetryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("retry service is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("retry trigger token is required")
	}
	return &RetryHandler{service: service, token: token}, nil
}

func RegisterRetryRoutes(router fiber.Router, service RetryService, token string) error {
	h, err := NewRetryHandler(service, token)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/retries/run", h.Run)

	return nil
}

type retryRunResponse struct {
	Evaluated int `json:"evaluated"`
	Requeued  int `json:"requeued"`
	Exhausted int `json:"exhausted"`
}

func (h *RetryHandler) Run(c *fiber.Ctx) error {
	if !h.authorized(c.Get(fiber.HeaderAuthorization)) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid or missing bearer token")
	}

	report, err := h.service.RunOnce(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(retryRunResponse{
		Evaluated: report.Evaluated,
		Requeued:  report.Requeued,
		Exhausted: report.Exhausted,
	})
}

func (h *RetryHandler) authorized(header string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) == 1
}
