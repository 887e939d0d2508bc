package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// BrowserPushConfig carries the VAPID material and delivery knobs for
// browser push subscriptions.
type BrowserPushConfig struct {
	Authorization string
	TTL           time.Duration
	Urgency       string
}

// BrowserPushAdapter posts Web-Push style messages directly to the endpoint
// stored on each subscription.
type BrowserPushAdapter struct {
	client        *resty.Client
	authorization string
	ttl           time.Duration
	urgency       string
}

func NewBrowserPushAdapter(cfg BrowserPushConfig) (*BrowserPushAdapter, error) {
	if strings.TrimSpace(cfg.Authorization) == "" {
		return nil, fmt.Errorf("%w: browser push authorization is required", domain.ErrConfiguration)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	urgency := strings.TrimSpace(cfg.Urgency)
	if urgency == "" {
		urgency = "normal"
	}

	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return &BrowserPushAdapter{
		client:        client,
		authorization: cfg.Authorization,
		ttl:           ttl,
		urgency:       urgency,
	}, nil
}

func (a *BrowserPushAdapter) Name() domain.Provider   { return domain.ProviderBrowserPush }
func (a *BrowserPushAdapter) Channel() domain.Channel { return domain.ChannelPush }

type browserPushBody struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

func (a *BrowserPushAdapter) Send(ctx context.Context, sub domain.Subscription, payload domain.Payload) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("%w: browser push adapter is not initialized", domain.ErrConfiguration)
	}
	if strings.TrimSpace(sub.Endpoint) == "" {
		return nil, &ProviderError{
			Code:       "missing_endpoint",
			Message:    "subscription has no push endpoint",
			TargetGone: true,
		}
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(browserPushBody{
		Title: payload.Title,
		Body:  payload.Body,
		Data:  payload.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode push payload: %w", err)
	}

	start := time.Now()
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", a.authorization).
		SetHeader("TTL", strconv.Itoa(int(a.ttl.Seconds()))).
		SetHeader("Urgency", a.urgency).
		SetBody(body).
		Post(sub.Endpoint)
	latency := time.Since(start)
	if err != nil {
		return nil, requestError(err)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		// Push services acknowledge without a message id; the Location
		// header carries one when present, otherwise we mint our own so
		// webhook correlation still has a stable key.
		messageID := strings.TrimSpace(response.Header().Get("Location"))
		if messageID == "" {
			messageID = uuid.NewString()
		}
		return &SendResult{
			ProviderMessageID: messageID,
			StatusCode:        statusCode,
			Latency:           latency,
		}, nil
	}

	gone := statusCode == http.StatusNotFound || statusCode == http.StatusGone
	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  !gone && isTransientHTTPStatus(statusCode),
		TargetGone: gone,
	}
}

func (a *BrowserPushAdapter) MapEvent(eventType string) (domain.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "delivered":
		return domain.StatusDelivered, true
	case "clicked":
		return domain.StatusClicked, true
	case "failed", "error", "expired":
		return domain.StatusFailed, true
	}
	return "", false
}
