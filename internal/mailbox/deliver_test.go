package mailbox

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vrelay/internal/inbound"
	"github.com/vdavid/vrelay/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func normalize(t *testing.T, fields map[string]string) *inbound.Normalized {
	t.Helper()
	n := inbound.NewNormalizer("vrelay.test", nil, nil, slog.New(slog.DiscardHandler))
	got, err := n.Normalize(context.Background(), inbound.NewPayload(fields))
	require.NoError(t, err)
	return got
}

func scenarioPayload() map[string]string {
	return map[string]string{
		"recipient":  "alice@vrelay.test",
		"sender":     "bob@gmail.com",
		"subject":    "Hi",
		"body-plain": "hello",
		"Message-Id": "<abc@mg>",
	}
}

func TestDeliver_NewMessageLandsInInbox(t *testing.T) {
	svc, store, notifier := newTestService(t)
	aliceID := store.AddUser("alice@gmail.com", "alice@vrelay.test")

	result := svc.Deliver(context.Background(), normalize(t, scenarioPayload()))
	require.Len(t, result.Created, 1)
	assert.Equal(t, result.Created[0], result.FirstID())

	msgs := store.MessagesFor(aliceID)
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, models.FolderInbox, msg.Folder)
	assert.False(t, msg.IsRead)
	assert.Equal(t, "bob@gmail.com", msg.From.Address)
	assert.Equal(t, "Hi", msg.Subject)
	require.NotNil(t, msg.ProviderMessageID)
	assert.Equal(t, "<abc@mg>", *msg.ProviderMessageID)
	assert.Equal(t, 1, notifier.count())
}

func TestDeliver_RedeliveryIsIgnored(t *testing.T) {
	svc, store, notifier := newTestService(t)
	aliceID := store.AddUser("alice@gmail.com", "alice@vrelay.test")

	first := svc.Deliver(context.Background(), normalize(t, scenarioPayload()))
	second := svc.Deliver(context.Background(), normalize(t, scenarioPayload()))

	assert.Len(t, first.Created, 1)
	assert.Empty(t, second.Created)
	assert.Equal(t, 1, second.Duplicates)
	assert.Len(t, store.MessagesFor(aliceID), 1)
	assert.Equal(t, 1, notifier.count())
}

func TestDeliver_ConcurrentRedeliveries(t *testing.T) {
	svc, store, _ := newTestService(t)
	aliceID := store.AddUser("alice@gmail.com", "alice@vrelay.test")
	normalized := normalize(t, scenarioPayload())

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			svc.Deliver(context.Background(), normalized)
		})
	}
	wg.Wait()

	assert.Len(t, store.MessagesFor(aliceID), 1)
}

func TestDeliver_SpamGoesToSpamFolder(t *testing.T) {
	svc, store, _ := newTestService(t)
	aliceID := store.AddUser("alice@gmail.com", "alice@vrelay.test")

	fields := scenarioPayload()
	fields["spam-flag"] = "yes"
	svc.Deliver(context.Background(), normalize(t, fields))

	msgs := store.MessagesFor(aliceID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.FolderSpam, msgs[0].Folder)
}

func TestDeliver_UnknownRecipientIsDropped(t *testing.T) {
	svc, store, notifier := newTestService(t)

	fields := scenarioPayload()
	fields["recipient"] = "nobody@vrelay.test"
	result := svc.Deliver(context.Background(), normalize(t, fields))

	assert.Empty(t, result.Created)
	assert.Equal(t, []string{"nobody@vrelay.test"}, result.Unknown)
	assert.Empty(t, store.Messages)
	assert.Equal(t, 0, notifier.count())
}

func TestDeliver_OneCopyPerOwner(t *testing.T) {
	svc, store, _ := newTestService(t)
	aliceID := store.AddUser("alice@gmail.com", "alice@vrelay.test")
	bobID := store.AddUser("bob@gmail.com", "bob@vrelay.test")

	fields := scenarioPayload()
	fields["recipient"] = "alice@vrelay.test, bob@vrelay.test, ALICE@vrelay.test, ghost@vrelay.test"
	result := svc.Deliver(context.Background(), normalize(t, fields))

	assert.Len(t, result.Created, 2)
	assert.Equal(t, []string{"ghost@vrelay.test"}, result.Unknown)

	aliceMsgs := store.MessagesFor(aliceID)
	bobMsgs := store.MessagesFor(bobID)
	require.Len(t, aliceMsgs, 1)
	require.Len(t, bobMsgs, 1)
	assert.NotEqual(t, aliceMsgs[0].ID, bobMsgs[0].ID)
	assert.Equal(t, *aliceMsgs[0].ProviderMessageID, *bobMsgs[0].ProviderMessageID)
}

func TestDeliver_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	svc, store, _ := newTestService(t)
	store.AddUser("alice@gmail.com", "alice@vrelay.test")

	svc.Deliver(context.Background(), normalize(t, scenarioPayload()))
	svc.Deliver(context.Background(), normalize(t, scenarioPayload()))

	var deliveries []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "Deliver" {
			deliveries = append(deliveries, span)
		}
	}
	require.Len(t, deliveries, 2)

	attrs := map[attribute.Key]int64{}
	for _, kv := range deliveries[1].Attributes() {
		attrs[kv.Key] = kv.Value.AsInt64()
	}
	assert.Equal(t, int64(0), attrs["delivery.created"])
	assert.Equal(t, int64(1), attrs["delivery.duplicates"])
}
