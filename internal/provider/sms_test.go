package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dealerops/notify-engine/internal/domain"
)

func smsTestConfig(baseURL string) SMSCarrierConfig {
	return SMSCarrierConfig{
		BaseURL:    baseURL,
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550001111",
	}
}

func TestSMSCarrierAdapterSendSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Messages.json" {
			t.Errorf("path = %s, want /Accounts/AC123/Messages.json", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("basic auth = %q/%q, want AC123/secret", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.PostFormValue("To"); got != "+15559998888" {
			t.Errorf("To = %q, want +15559998888", got)
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM900"}`))
	}))
	defer server.Close()

	adapter, err := NewSMSCarrierAdapter(smsTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewSMSCarrierAdapter() error = %v", err)
	}

	result, err := adapter.Send(context.Background(), domain.Subscription{
		Channel:  domain.ChannelSMS,
		Endpoint: "+15559998888",
	}, domain.Payload{Title: "Service due", Body: "Your vehicle service is due"})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if result.ProviderMessageID != "SM900" {
		t.Fatalf("ProviderMessageID = %q, want SM900", result.ProviderMessageID)
	}
}

func TestSMSCarrierAdapterSendClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		body          string
		wantTransient bool
		wantGone      bool
		wantCode      string
	}{
		{
			name:       "invalid number is gone",
			statusCode: http.StatusBadRequest,
			body:       `{"code":21211,"message":"invalid To number"}`,
			wantGone:   true,
			wantCode:   "21211",
		},
		{
			name:       "unsubscribed recipient is gone",
			statusCode: http.StatusBadRequest,
			body:       `{"code":21610,"message":"recipient unsubscribed"}`,
			wantGone:   true,
			wantCode:   "21610",
		},
		{
			name:          "carrier outage is transient",
			statusCode:    http.StatusServiceUnavailable,
			body:          `{"message":"service unavailable"}`,
			wantTransient: true,
			wantCode:      "http_503",
		},
		{
			name:       "malformed request is permanent",
			statusCode: http.StatusBadRequest,
			body:       `{"code":21602,"message":"body is required"}`,
			wantCode:   "21602",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			adapter, err := NewSMSCarrierAdapter(smsTestConfig(server.URL))
			if err != nil {
				t.Fatalf("NewSMSCarrierAdapter() error = %v", err)
			}

			_, err = adapter.Send(context.Background(), domain.Subscription{Endpoint: "+15559998888"}, domain.Payload{Body: "hi"})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
			if got := IsTargetGone(err); got != tc.wantGone {
				t.Fatalf("IsTargetGone() = %v, want %v", got, tc.wantGone)
			}
			if got := ErrorCode(err); got != tc.wantCode {
				t.Fatalf("ErrorCode() = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestSMSCarrierAdapterMapEvent(t *testing.T) {
	t.Parallel()

	adapter := &SMSCarrierAdapter{}

	testCases := []struct {
		eventType string
		want      domain.Status
		wantOK    bool
	}{
		{eventType: "sent", want: domain.StatusSent, wantOK: true},
		{eventType: "delivered", want: domain.StatusDelivered, wantOK: true},
		{eventType: "undelivered", want: domain.StatusFailed, wantOK: true},
		{eventType: "failed", want: domain.StatusFailed, wantOK: true},
		{eventType: "queued", wantOK: false},
	}

	for _, tc := range testCases {
		got, ok := adapter.MapEvent(tc.eventType)
		if ok != tc.wantOK {
			t.Errorf("MapEvent(%q) ok = %v, want %v", tc.eventType, ok, tc.wantOK)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("MapEvent(%q) = %s, want %s", tc.eventType, got, tc.want)
		}
	}
}
