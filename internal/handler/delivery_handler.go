package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/dealerops/notify-engine/internal/repository"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type DeliveryReadService interface {
	GetByID(ctx context.Context, id string) (*domain.DeliveryLog, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.DeliveryLog, int64, error)
}

type DeliveryHandler struct {
	deliveries DeliveryReadService
}

func NewDeliveryHandler(deliveries DeliveryReadService) (*DeliveryHandler, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	return &DeliveryHandler{deliveries: deliveries}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, deliveries DeliveryReadService) error {
	h, err := NewDeliveryHandler(deliveries)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/deliveries/:id", h.GetDelivery)
	v1.Get("/deliveries", h.ListDeliveries)

	return nil
}

type deliveryResponse struct {
	ID                string     `json:"id"`
	NotificationID    string     `json:"notificationId"`
	DealershipID      string     `json:"dealershipId"`
	UserID            string     `json:"userId"`
	Channel           string     `json:"channel"`
	Provider          string     `json:"provider"`
	Status            string     `json:"status"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	Title             string     `json:"title"`
	Body              string     `json:"body"`
	RetryCount        int        `json:"retryCount"`
	NonRetryable      bool       `json:"nonRetryable"`
	ErrorCode         *string    `json:"errorCode,omitempty"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	LatencyMS         *int64     `json:"latencyMs,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	ClickedAt         *time.Time `json:"clickedAt,omitempty"`
	ReadAt            *time.Time `json:"readAt,omitempty"`
	FailedAt          *time.Time `json:"failedAt,omitempty"`
	FirstFailedAt     *time.Time `json:"firstFailedAt,omitempty"`
}

type listDeliveriesResponse struct {
	Data []deliveryResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *DeliveryHandler) GetDelivery(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	entry, err := h.deliveries.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(entry))
}

func (h *DeliveryHandler) ListDeliveries(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	entries, total, err := h.deliveries.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]deliveryResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, toDeliveryResponse(&entries[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listDeliveriesResponse{
		Data: responses,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Channel = &channel
	}

	if notificationID := strings.TrimSpace(c.Query("notificationId")); notificationID != "" {
		params.NotificationID = &notificationID
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toDeliveryResponse(entry *domain.DeliveryLog) deliveryResponse {
	if entry == nil {
		return deliveryResponse{}
	}

	return deliveryResponse{
		ID:                entry.ID,
		NotificationID:    entry.NotificationID,
		DealershipID:      entry.DealershipID,
		UserID:            entry.UserID,
		Channel:           entry.Channel.String(),
		Provider:          entry.Provider.String(),
		Status:            entry.Status.String(),
		ProviderMessageID: entry.ProviderMessageID,
		Title:             entry.Title,
		Body:              entry.Body,
		RetryCount:        entry.RetryCount,
		NonRetryable:      entry.NonRetryable,
		ErrorCode:         entry.ErrorCode,
		ErrorMessage:      entry.ErrorMessage,
		LatencyMS:         entry.LatencyMS,
		CreatedAt:         entry.CreatedAt,
		SentAt:            entry.SentAt,
		DeliveredAt:       entry.DeliveredAt,
		ClickedAt:         entry.ClickedAt,
		ReadAt:            entry.ReadAt,
		FailedAt:          entry.FailedAt,
		FirstFailedAt:     entry.FirstFailedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	default:
		return err
	}
}
