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
)

// SMSCarrierConfig carries the carrier account credentials.
type SMSCarrierConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SMSCarrierAdapter delivers text messages through a carrier REST API
// (Twilio-compatible message resource).
type SMSCarrierAdapter struct {
	client     *resty.Client
	baseURL    string
	accountSID string
	authToken  string
	fromNumber string
}

// Carrier error codes that mean the destination number is permanently
// unreachable.
var smsGoneCodes = map[int]struct{}{
	21211: {}, // invalid "To" number
	21610: {}, // recipient unsubscribed
	21614: {}, // not a mobile number
}

func NewSMSCarrierAdapter(cfg SMSCarrierConfig) (*SMSCarrierAdapter, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("%w: sms carrier credentials are required", domain.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("%w: sms sender number is required", domain.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: sms carrier base url is required", domain.ErrConfiguration)
	}

	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return &SMSCarrierAdapter{
		client:     client,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
	}, nil
}

func (a *SMSCarrierAdapter) Name() domain.Provider   { return domain.ProviderSMSCarrier }
func (a *SMSCarrierAdapter) Channel() domain.Channel { return domain.ChannelSMS }

type smsCarrierResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *SMSCarrierAdapter) Send(ctx context.Context, sub domain.Subscription, payload domain.Payload) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("%w: sms adapter is not initialized", domain.ErrConfiguration)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	text := payload.Body
	if text == "" {
		text = payload.Title
	}

	url := fmt.Sprintf("%s/Accounts/%s/Messages.json", a.baseURL, a.accountSID)

	start := time.Now()
	response, err := a.client.R().
		SetContext(ctx).
		SetBasicAuth(a.accountSID, a.authToken).
		SetFormData(map[string]string{
			"To":   sub.Endpoint,
			"From": a.fromNumber,
			"Body": text,
		}).
		Post(url)
	latency := time.Since(start)
	if err != nil {
		return nil, requestError(err)
	}

	statusCode := response.StatusCode()
	var parsed smsCarrierResponse
	_ = json.Unmarshal(response.Body(), &parsed)

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			ProviderMessageID: parsed.SID,
			StatusCode:        statusCode,
			Latency:           latency,
		}, nil
	}

	_, gone := smsGoneCodes[parsed.Code]
	code := ""
	if parsed.Code > 0 {
		code = strconv.Itoa(parsed.Code)
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Code:       code,
		Message:    providerErrorMessage(statusCode, parsed.Message),
		Transient:  !gone && isTransientHTTPStatus(statusCode),
		TargetGone: gone,
	}
}

// MapEvent translates carrier status callback values. "sent" confirms
// handoff to the network and is already recorded at dispatch time, so it
// maps to the sent status and the forward-only guard makes it a no-op for
// entries that progressed past it.
func (a *SMSCarrierAdapter) MapEvent(eventType string) (domain.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "sent":
		return domain.StatusSent, true
	case "delivered":
		return domain.StatusDelivered, true
	case "undelivered", "failed", "error":
		return domain.StatusFailed, true
	}
	return "", false
}
