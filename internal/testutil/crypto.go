package testutil

import (
	"net/url"
	"strconv"
	"time"

	"github.com/vdavid/vrelay/internal/crypto"
)

// TestWebhookSigningKey is the signing key used by webhook tests.
const TestWebhookSigningKey = "test-webhook-signing-key"

// SignWebhookForm adds a fresh timestamp, token and matching signature to a webhook form.
// This is shared across all test packages to avoid duplication.
func SignWebhookForm(form url.Values, token string) url.Values {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	form.Set("timestamp", ts)
	form.Set("token", token)
	form.Set("signature", crypto.Sign(TestWebhookSigningKey, ts, token))
	return form
}
