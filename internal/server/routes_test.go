package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vrelay/internal/config"
	"github.com/vdavid/vrelay/internal/db/fake"
	providerfake "github.com/vdavid/vrelay/internal/provider/fake"
	"github.com/vdavid/vrelay/internal/storage"
)

func getTestConfig() *config.Config {
	return &config.Config{
		Environment:             "test",
		DBPassword:              "unused",
		Port:                    "8080",
		Timezone:                "UTC",
		MailDomain:              "vrelay.test",
		InternalFallbackEnabled: true,
		ScheduleSweepInterval:   time.Minute,
		RetentionSweepInterval:  time.Hour,
		TrashRetention:          30 * 24 * time.Hour,
		SendRatePerSecond:       5,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (http.Handler, *fake.Store) {
	t.Helper()
	store := fake.NewStore()
	logger := slog.New(slog.DiscardHandler)
	services := NewServices(cfg, store, providerfake.NewProvider(), storage.NewMemoryStore("https://files.vrelay.test"), logger)
	return NewServer(cfg, services), store
}

func TestHandleRoot(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	handleRoot(w, req)

	res := w.Result()
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			t.Fatalf("failed to close response body: %v", err)
		}
	}(res.Body)

	if res.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", res.StatusCode)
	}

	contentType := res.Header.Get("Content-Type")
	if contentType != "text/plain" {
		t.Errorf("expected Content-Type 'text/plain', got '%s'", contentType)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	expected := "vrelay API is running"
	if string(body) != expected {
		t.Errorf("expected body '%s', got '%s'", expected, string(body))
	}
}

func TestNewServer_Routes(t *testing.T) {
	server, store := newTestServer(t, getTestConfig())
	store.AddUser("test@example.com", "me@vrelay.test")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{name: "root", method: http.MethodGet, path: "/", want: http.StatusOK},
		{name: "unknown path", method: http.MethodGet, path: "/nope", want: http.StatusNotFound},
		{name: "messages need a token", method: http.MethodGet, path: "/api/v1/mail/messages", want: http.StatusUnauthorized},
		{name: "messages with a token", method: http.MethodGet, path: "/api/v1/mail/messages", token: "token", want: http.StatusOK},
		{name: "stats", method: http.MethodGet, path: "/api/v1/mail/messages/stats", token: "token", want: http.StatusOK},
		{name: "missing message", method: http.MethodGet, path: "/api/v1/mail/messages/missing", token: "token", want: http.StatusNotFound},
		{name: "wrong method", method: http.MethodPut, path: "/api/v1/mail/messages", token: "token", want: http.StatusMethodNotAllowed},
		{name: "category listing", method: http.MethodGet, path: "/api/v1/mail/categories/social", token: "token", want: http.StatusOK},
		{name: "unknown category", method: http.MethodGet, path: "/api/v1/mail/categories/work", token: "token", want: http.StatusBadRequest},
		{name: "drafts", method: http.MethodGet, path: "/api/v1/mail/drafts", token: "token", want: http.StatusOK},
		{name: "scheduled", method: http.MethodGet, path: "/api/v1/mail/scheduled", token: "token", want: http.StatusOK},
		{name: "settings", method: http.MethodGet, path: "/api/v1/settings", token: "token", want: http.StatusOK},
		{name: "auth status", method: http.MethodGet, path: "/api/v1/auth/status", token: "token", want: http.StatusOK},
		{name: "address check", method: http.MethodGet, path: "/api/v1/mail/address/check?address=new@vrelay.test", token: "token", want: http.StatusOK},
		{name: "trash cleanup", method: http.MethodPost, path: "/api/v1/mail/cleanup-trash", token: "token", want: http.StatusOK},
		{name: "webmail link backfill", method: http.MethodPost, path: "/api/v1/mail/fix-webmail-urls", token: "token", want: http.StatusOK},
		{name: "provider status", method: http.MethodGet, path: "/api/v1/mail/provider-status", token: "token", want: http.StatusOK},
		{name: "trash cleanup needs a token", method: http.MethodPost, path: "/api/v1/mail/cleanup-trash", want: http.StatusUnauthorized},
		{name: "websocket without token", method: http.MethodGet, path: "/api/v1/ws", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestNewServer_WebhookNeedsNoToken(t *testing.T) {
	server, store := newTestServer(t, getTestConfig())
	userID := store.AddUser("alice@example.com", "alice@vrelay.test")

	form := url.Values{
		"recipient":  {"alice@vrelay.test"},
		"sender":     {"bob@gmail.com"},
		"subject":    {"Routed"},
		"Message-Id": {"<routed@mailgun.test>"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mail/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Email received")
	assert.Len(t, store.MessagesFor(userID), 1)
}

func TestNewServer_TestEndpointsOnlyInTestEnvironment(t *testing.T) {
	cfg := getTestConfig()
	cfg.Environment = "production"
	server, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/test/add-inbound-message", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
