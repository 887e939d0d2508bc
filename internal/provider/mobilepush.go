package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultSendTimeout = 10 * time.Second

// MobilePushConfig carries the credentials for the mobile push service.
type MobilePushConfig struct {
	Endpoint    string
	AccessToken string
}

// MobilePushAdapter delivers device-token push notifications (FCM-style
// HTTP v1 API).
type MobilePushAdapter struct {
	client   *resty.Client
	endpoint string
	token    string
}

func NewMobilePushAdapter(cfg MobilePushConfig) (*MobilePushAdapter, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("%w: mobile push access token is required", domain.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("%w: mobile push endpoint is required", domain.ErrConfiguration)
	}

	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return &MobilePushAdapter{
		client:   client,
		endpoint: strings.TrimSpace(cfg.Endpoint),
		token:    cfg.AccessToken,
	}, nil
}

func (a *MobilePushAdapter) Name() domain.Provider   { return domain.ProviderMobilePush }
func (a *MobilePushAdapter) Channel() domain.Channel { return domain.ChannelPush }

type mobilePushMessage struct {
	Token        string            `json:"token"`
	Notification mobilePushContent `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type mobilePushContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type mobilePushRequest struct {
	Message mobilePushMessage `json:"message"`
}

type mobilePushResponse struct {
	Name  string `json:"name"`
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *MobilePushAdapter) Send(ctx context.Context, sub domain.Subscription, payload domain.Payload) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("%w: mobile push adapter is not initialized", domain.ErrConfiguration)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	reqBody := mobilePushRequest{
		Message: mobilePushMessage{
			Token: sub.Endpoint,
			Notification: mobilePushContent{
				Title: payload.Title,
				Body:  payload.Body,
			},
			Data: payload.Data,
		},
	}

	start := time.Now()
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(a.token).
		SetBody(reqBody).
		Post(a.endpoint)
	latency := time.Since(start)
	if err != nil {
		return nil, requestError(err)
	}

	statusCode := response.StatusCode()
	var parsed mobilePushResponse
	_ = json.Unmarshal(response.Body(), &parsed)

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			ProviderMessageID: messageIDFromName(parsed.Name),
			StatusCode:        statusCode,
			Latency:           latency,
		}, nil
	}

	errStatus := strings.ToUpper(strings.TrimSpace(parsed.Error.Status))
	gone := statusCode == http.StatusNotFound ||
		statusCode == http.StatusGone ||
		errStatus == "UNREGISTERED" ||
		errStatus == "NOT_FOUND"

	return nil, &ProviderError{
		StatusCode: statusCode,
		Code:       errStatus,
		Message:    providerErrorMessage(statusCode, parsed.Error.Message),
		Transient:  !gone && isTransientHTTPStatus(statusCode),
		TargetGone: gone,
	}
}

// MapEvent translates delivery receipt event types reported by the mobile
// push feedback webhook.
func (a *MobilePushAdapter) MapEvent(eventType string) (domain.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "delivered":
		return domain.StatusDelivered, true
	case "clicked", "opened-and-tapped":
		return domain.StatusClicked, true
	case "failed", "error", "undelivered":
		return domain.StatusFailed, true
	}
	return "", false
}

// messageIDFromName extracts the trailing message id from a resource name
// such as "projects/p/messages/0:167...". Falls back to the full name.
func messageIDFromName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if idx := strings.LastIndex(name, "/"); idx >= 0 && idx+1 < len(name) {
		return name[idx+1:]
	}
	return name
}

func providerErrorMessage(statusCode int, message string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if strings.TrimSpace(message) == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, message)
}
