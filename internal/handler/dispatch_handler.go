package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealerops/notify-engine/internal/dispatch"
	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/gofiber/fiber/v2"
)

type DispatchService interface {
	Dispatch(ctx context.Context, req dispatch.DispatchRequest) (*dispatch.DispatchResult, error)
}

type DispatchHandler struct {
	service DispatchService
}

func NewDispatchHandler(service DispatchService) (*DispatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &DispatchHandler{service: service}, nil
}

func RegisterDispatchRoutes(router fiber.Router, service DispatchService) error {
	h, err := NewDispatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/dispatch", h.Dispatch)

	return nil
}

type dispatchRequest struct {
	NotificationID string            `json:"notificationId"`
	DealershipID   string            `json:"dealershipId"`
	Channel        string            `json:"channel"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data,omitempty"`
	Targets        targetSelector    `json:"targets"`
}

type targetSelector struct {
	UserID       string   `json:"userId,omitempty"`
	UserIDs      []string `json:"userIds,omitempty"`
	DealershipID string   `json:"dealershipId,omitempty"`
}

type dispatchResponse struct {
	Success        bool   `json:"success"`
	NotificationID string `json:"notificationId"`
	SentCount      int    `json:"sentCount"`
	FailedCount    int    `json:"failedCount"`
	TotalTargets   int    `json:"totalTargets"`
}

func (h *DispatchHandler) Dispatch(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.service.Dispatch(c.Context(), dispatch.DispatchRequest{
		NotificationID: strings.TrimSpace(req.NotificationID),
		DealershipID:   strings.TrimSpace(req.DealershipID),
		Channel:        channel,
		Payload: domain.Payload{
			Title: strings.TrimSpace(req.Title),
			Body:  strings.TrimSpace(req.Body),
			Data:  req.Data,
		},
		Targets: domain.TargetSelector{
			UserID:       strings.TrimSpace(req.Targets.UserID),
			UserIDs:      req.Targets.UserIDs,
			DealershipID: strings.TrimSpace(req.Targets.DealershipID),
		},
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(dispatchResponse{
		Success:        true,
		NotificationID: strings.TrimSpace(req.NotificationID),
		SentCount:      result.Sent,
		FailedCount:    result.Failed,
		TotalTargets:   result.Total,
	})
}
