package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vrelay/internal/auth"
	"github.com/vdavid/vrelay/internal/crypto"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/db/fake"
	"github.com/vdavid/vrelay/internal/dedup"
	"github.com/vdavid/vrelay/internal/inbound"
	"github.com/vdavid/vrelay/internal/mailbox"
	"github.com/vdavid/vrelay/internal/outbound"
	"github.com/vdavid/vrelay/internal/provider"
	providerfake "github.com/vdavid/vrelay/internal/provider/fake"
	"github.com/vdavid/vrelay/internal/storage"
)

const testDomain = "vrelay.test"

// testDeps wires every handler dependency against in-memory collaborators.
type testDeps struct {
	store        db.Store
	fakeStore    *fake.Store
	provider     provider.Provider
	bucket       *storage.MemoryStore
	mailbox      *mailbox.Service
	orchestrator *outbound.Orchestrator
	provisioner  *mailbox.Provisioner
	normalizer   *inbound.Normalizer
	verifier     *crypto.WebhookVerifier
}

func newTestDeps(t *testing.T, p provider.Provider) *testDeps {
	t.Helper()
	store := fake.NewStore()
	deps := newTestDepsWithStore(t, store, p)
	deps.fakeStore = store
	return deps
}

func newTestDepsWithStore(t *testing.T, store db.Store, p provider.Provider) *testDeps {
	t.Helper()
	if p == nil {
		p = providerfake.NewProvider()
	}
	logger := slog.New(slog.DiscardHandler)
	guard := dedup.NewGuard(store)
	resolver := mailbox.NewResolver(store)
	bucket := storage.NewMemoryStore("https://files.vrelay.test")

	return &testDeps{
		store:    store,
		provider: p,
		bucket:   bucket,
		mailbox:  mailbox.NewService(store, guard, resolver, nil, logger),
		orchestrator: outbound.NewOrchestrator(store, guard, resolver, p, bucket, nil,
			outbound.Options{MailDomain: testDomain, InternalFallback: true}, logger),
		provisioner: mailbox.NewProvisioner(store, p, testDomain, logger),
		normalizer:  inbound.NewNormalizer(testDomain, bucket, nil, logger),
		verifier:    crypto.NewWebhookVerifier("", 0),
	}
}

// provisionUser creates the user behind an auth email and gives it a mailbox address.
func (d *testDeps) provisionUser(t *testing.T, email, address string) string {
	t.Helper()
	ctx := context.Background()
	userID, err := d.store.GetOrCreateUser(ctx, email)
	require.NoError(t, err)
	if address != "" {
		require.NoError(t, d.store.SetMailAddress(ctx, userID, address, ""))
	}
	return userID
}

// createRequestWithUser creates an HTTP request with user email in context.
func createRequestWithUser(method, url, email string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	return req.WithContext(auth.WithUserEmail(req.Context(), email))
}

// jsonRequestWithUser creates an authenticated request with v encoded as the JSON body.
func jsonRequestWithUser(t *testing.T, method, url, email string, v any) *http.Request {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	req := createRequestWithUser(method, url, email, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no user is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no user email in context")
}

func boolPtr(v bool) *bool {
	return &v
}
