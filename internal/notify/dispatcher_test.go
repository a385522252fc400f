package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/token-service/internal/models"
)

type recordingProvider struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (p *recordingProvider) Send(ctx context.Context, message, recipient string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, recipient+"|"+message)
	return p.err
}

func (p *recordingProvider) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) ObserveAssignment(string)   {}
func (r *countingRecorder) ObserveTransition(string)   {}
func (r *countingRecorder) SetActive(string, int)      {}
func (r *countingRecorder) ObserveEventDropped(string) {}
func (r *countingRecorder) ObserveRequest(string, int) {}
func (r *countingRecorder) ObserveNotification(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[result]++
}

func (r *countingRecorder) get(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[result]
}

func TestRenderUsesOrdinalPosition(t *testing.T) {
	msg := Render("", models.NotifyRequest{TokenID: "A002", Position: 2, WaitEstimateMinutes: 5})
	assert.Equal(t, "Token A002: you are 2nd in line. Estimated wait 5 min.", msg)

	msg = Render("{token_id}/{position}/{wait}", models.NotifyRequest{TokenID: "B011", Position: 11, WaitEstimateMinutes: 50})
	assert.Equal(t, "B011/11th/50", msg)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	provider := &recordingProvider{}
	recorder := &countingRecorder{}
	d := NewDispatcher(provider, Config{QueueSize: 8, Workers: 1}, nil, recorder)
	d.Start(context.Background())

	d.Enqueue(models.NotifyRequest{Phone: "+919876543210", TokenID: "A001", Position: 1})
	d.Enqueue(models.NotifyRequest{Phone: "+919876543211", TokenID: "A002", Position: 2, WaitEstimateMinutes: 5})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	sent := provider.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "+919876543210|Token A001")
	assert.Equal(t, 2, recorder.get("sent"))
}

func TestDispatcherFailureIsCounted(t *testing.T) {
	provider := &recordingProvider{err: errors.New("boom")}
	recorder := &countingRecorder{}
	d := NewDispatcher(provider, Config{Workers: 1}, nil, recorder)
	d.Start(context.Background())
	d.Enqueue(models.NotifyRequest{Phone: "+919876543210", TokenID: "A001", Position: 1})
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 1, recorder.get("failed"))
}

func TestDispatcherDropsWhenFullOrClosed(t *testing.T) {
	recorder := &countingRecorder{}
	d := NewDispatcher(&recordingProvider{}, Config{QueueSize: 1}, nil, recorder)

	// No workers started, so the second request overflows.
	d.Enqueue(models.NotifyRequest{TokenID: "A001"})
	d.Enqueue(models.NotifyRequest{TokenID: "A002"})
	assert.Equal(t, 1, recorder.get("dropped"))

	d.Start(context.Background())
	require.NoError(t, d.Close(context.Background()))
	d.Enqueue(models.NotifyRequest{TokenID: "A003"})
	assert.Equal(t, 2, recorder.get("dropped"))
}

func TestWebhookProvider(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewProvider(ProviderConfig{Kind: "webhook", WebhookURL: srv.URL, WebhookToken: "secret"})
	require.NoError(t, p.Send(context.Background(), "hello", "+919876543210"))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "sms", got["channel"])
	assert.Equal(t, "+919876543210", got["recipient"])
	assert.Equal(t, "hello", got["message"])
}

func TestWebhookProviderRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewProvider(ProviderConfig{Kind: srv.URL})
	assert.Error(t, p.Send(context.Background(), "hello", "+919876543210"))
}

func TestNewProviderKinds(t *testing.T) {
	assert.IsType(t, noopProvider{}, NewProvider(ProviderConfig{Kind: "noop"}))
	assert.IsType(t, failProvider{}, NewProvider(ProviderConfig{Kind: "fail"}))
	assert.IsType(t, logProvider{}, NewProvider(ProviderConfig{Kind: "webhook"}))
	assert.IsType(t, logProvider{}, NewProvider(ProviderConfig{}))
}
