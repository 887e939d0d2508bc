package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dealerops/notify-engine/internal/domain"
)

func emailTestConfig(baseURL string) EmailCarrierConfig {
	return EmailCarrierConfig{
		BaseURL:   baseURL,
		APIKey:    "SG.key",
		FromEmail: "noreply@dealerops.example",
		FromName:  "DealerOps",
	}
}

func TestEmailCarrierAdapterSendSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("path = %s, want /v3/mail/send", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer SG.key" {
			t.Errorf("Authorization = %q, want bearer key", got)
		}
		w.Header().Set("X-Message-Id", "em-msg-7")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	adapter, err := NewEmailCarrierAdapter(emailTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewEmailCarrierAdapter() error = %v", err)
	}

	result, err := adapter.Send(context.Background(), domain.Subscription{
		Channel:  domain.ChannelEmail,
		Endpoint: "manager@dealer.example",
	}, domain.Payload{Title: "Daily summary", Body: "3 new leads today"})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if result.ProviderMessageID != "em-msg-7" {
		t.Fatalf("ProviderMessageID = %q, want em-msg-7", result.ProviderMessageID)
	}
	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", result.StatusCode, http.StatusAccepted)
	}
}

func TestEmailCarrierAdapterSendClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "unauthorized is permanent", statusCode: http.StatusUnauthorized, wantTransient: false},
		{name: "rate limit is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "server error is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(`{"errors":[{"message":"rejected"}]}`))
			}))
			defer server.Close()

			adapter, err := NewEmailCarrierAdapter(emailTestConfig(server.URL))
			if err != nil {
				t.Fatalf("NewEmailCarrierAdapter() error = %v", err)
			}

			_, err = adapter.Send(context.Background(), domain.Subscription{Endpoint: "a@b.example"}, domain.Payload{Title: "t", Body: "b"})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
		})
	}
}

func TestEmailCarrierAdapterMapEvent(t *testing.T) {
	t.Parallel()

	adapter := &EmailCarrierAdapter{}

	testCases := []struct {
		eventType string
		want      domain.Status
		wantOK    bool
	}{
		{eventType: "delivered", want: domain.StatusDelivered, wantOK: true},
		{eventType: "open", want: domain.StatusRead, wantOK: true},
		{eventType: "click", want: domain.StatusClicked, wantOK: true},
		{eventType: "bounce", want: domain.StatusBounced, wantOK: true},
		{eventType: "spamreport", want: domain.StatusBounced, wantOK: true},
		{eventType: "dropped", want: domain.StatusFailed, wantOK: true},
		{eventType: "processed", wantOK: false},
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
