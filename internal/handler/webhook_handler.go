package handler

import (
	"context"
	"fmt"

	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/dealerops/notify-engine/internal/webhook"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const signatureHeader = "X-Webhook-Signature"

type WebhookIngestService interface {
	Ingest(ctx context.Context, provider domain.Provider, rawBody []byte) (*webhook.IngestResult, error)
}

type WebhookVerifier interface {
	Verify(provider domain.Provider, signatureHeader string, rawBody []byte) bool
	BypassEnabled() bool
}

type WebhookHandler struct {
	ingestor WebhookIngestService
	verifier WebhookVerifier
	logger   *zap.Logger
}

func NewWebhookHandler(ingestor WebhookIngestService, verifier WebhookVerifier, logger *zap.Logger) (*WebhookHandler, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("webhook ingestor is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("webhook verifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{ingestor: ingestor, verifier: verifier, logger: logger}, nil
}

func RegisterWebhookRoutes(router fiber.Router, ingestor WebhookIngestService, verifier WebhookVerifier, logger *zap.Logger) error {
	h, err := NewWebhookHandler(ingestor, verifier, logger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webhooks/:provider", h.Receive)

	return nil
}

type webhookResponse struct {
	Success    bool `json:"success"`
	Processed  int  `json:"processed"`
	Successful int  `json:"successful"`
	Failed     int  `json:"failed"`
}

func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	provider, err := domain.ParseProviderFromString(c.Params("provider"))
	if err != nil {
		return toHTTPError(err)
	}

	// Body() is only valid until the handler returns; the ingestor runs
	// within this request, so no copy is needed.
	body := c.Body()

	if !h.verifier.BypassEnabled() {
		if !h.verifier.Verify(provider, c.Get(signatureHeader), body) {
			h.logger.Warn("rejected webhook with invalid signature",
				zap.String("provider", provider.String()),
				zap.String("ip", c.IP()),
			)
			return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook signature")
		}
	}

	result, err := h.ingestor.Ingest(c.Context(), provider, body)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(webhookResponse{
		Success:    true,
		Processed:  result.Processed,
		Successful: result.Successful,
		Failed:     result.Failed,
	})
}
