package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dealerops/notify-engine/internal/domain"
	"go.uber.org/zap"
)

// Verifier authenticates inbound provider webhooks with an HMAC-SHA256
// signature over the raw request body.
type Verifier struct {
	secrets       map[domain.Provider]string
	generalSecret string
	devBypass     bool
	logger        *zap.Logger
}

func NewVerifier(secrets map[domain.Provider]string, generalSecret string, devBypass bool, logger *zap.Logger) *Verifier {
	if secrets == nil {
		secrets = make(map[domain.Provider]string)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Verifier{
		secrets:       secrets,
		generalSecret: generalSecret,
		devBypass:     devBypass,
		logger:        logger,
	}
}

// BypassEnabled reports whether the development override skips signature
// checks entirely.
func (v *Verifier) BypassEnabled() bool {
	return v != nil && v.devBypass
}

// Verify computes the HMAC-SHA256 hex digest of the raw body using the
// provider-specific secret (falling back to the general secret) and compares
// it to the supplied signature in constant time. An unverifiable webhook is
// never trusted: no configured secret means false, not an error.
func (v *Verifier) Verify(provider domain.Provider, signatureHeader string, rawBody []byte) bool {
	if v == nil {
		return false
	}

	secret := v.secrets[provider]
	if secret == "" {
		secret = v.generalSecret
	}
	if secret == "" {
		v.logger.Warn("no webhook signing secret configured, rejecting webhook",
			zap.String("provider", provider.String()),
		)
		return false
	}

	signature := strings.TrimSpace(signatureHeader)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
