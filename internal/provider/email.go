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

// EmailCarrierConfig carries the transactional email API credentials.
type EmailCarrierConfig struct {
	BaseURL   string
	APIKey    string
	FromEmail string
	FromName  string
}

// EmailCarrierAdapter delivers transactional email through a SendGrid-style
// v3 mail API.
type EmailCarrierAdapter struct {
	client    *resty.Client
	baseURL   string
	apiKey    string
	fromEmail string
	fromName  string
}

func NewEmailCarrierAdapter(cfg EmailCarrierConfig) (*EmailCarrierAdapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: email api key is required", domain.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("%w: email sender address is required", domain.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: email carrier base url is required", domain.ErrConfiguration)
	}

	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return &EmailCarrierAdapter{
		client:    client,
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:    cfg.APIKey,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}, nil
}

func (a *EmailCarrierAdapter) Name() domain.Provider   { return domain.ProviderEmail }
func (a *EmailCarrierAdapter) Channel() domain.Channel { return domain.ChannelEmail }

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type emailPersonalization struct {
	To []emailAddress `json:"to"`
}

type emailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type emailSendRequest struct {
	Personalizations []emailPersonalization `json:"personalizations"`
	From             emailAddress           `json:"from"`
	Subject          string                 `json:"subject"`
	Content          []emailContent         `json:"content"`
}

type emailErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (a *EmailCarrierAdapter) Send(ctx context.Context, sub domain.Subscription, payload domain.Payload) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("%w: email adapter is not initialized", domain.ErrConfiguration)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	reqBody := emailSendRequest{
		Personalizations: []emailPersonalization{
			{To: []emailAddress{{Email: sub.Endpoint}}},
		},
		From:    emailAddress{Email: a.fromEmail, Name: a.fromName},
		Subject: payload.Title,
		Content: []emailContent{
			{Type: "text/plain", Value: payload.Body},
		},
	}

	start := time.Now()
	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(a.apiKey).
		SetBody(reqBody).
		Post(a.baseURL + "/v3/mail/send")
	latency := time.Since(start)
	if err != nil {
		return nil, requestError(err)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			ProviderMessageID: strings.TrimSpace(response.Header().Get("X-Message-Id")),
			StatusCode:        statusCode,
			Latency:           latency,
		}, nil
	}

	var parsed emailErrorResponse
	_ = json.Unmarshal(response.Body(), &parsed)

	message := ""
	if len(parsed.Errors) > 0 {
		message = parsed.Errors[0].Message
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, message),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

// MapEvent translates email engagement events. An email "open" means the
// recipient read the message, which is distinct from the click event.
func (a *EmailCarrierAdapter) MapEvent(eventType string) (domain.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "delivered":
		return domain.StatusDelivered, true
	case "open", "opened":
		return domain.StatusRead, true
	case "click", "clicked":
		return domain.StatusClicked, true
	case "bounce", "bounced", "spamreport", "complained":
		return domain.StatusBounced, true
	case "dropped", "failed", "error", "undelivered":
		return domain.StatusFailed, true
	}
	return "", false
}
