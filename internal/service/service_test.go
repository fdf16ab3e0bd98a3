package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockdriver/internal/config"
	"mockdriver/pkg/model"
)

type notifyingStore struct {
	subs []func()
}

func (n *notifyingStore) Get(context.Context) (*model.Settings, error) { return &model.Settings{}, nil }
func (n *notifyingStore) OnChange(fn func())                              { n.subs = append(n.subs, fn) }

func devtoolsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStartSessionWithoutPages(t *testing.T) {
	srv := devtoolsServer(t, `[]`)
	svc := New(Deps{Store: &notifyingStore{}})

	_, err := svc.StartSession(context.Background(), model.SessionConfig{DevToolsURL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attach")
}

func TestStartSessionDialFailure(t *testing.T) {
	srv := devtoolsServer(t, `[{"id":"tab-1","type":"page","url":"https://app.example.com","webSocketDebuggerUrl":"ws://127.0.0.1:1/devtools/page/tab-1"}]`)
	svc := New(Deps{Store: &notifyingStore{}})

	_, err := svc.StartSession(context.Background(), model.SessionConfig{DevToolsURL: srv.URL})
	assert.Error(t, err)
}

func TestStartSessionRejectsBadMode(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Engine.Mode = "hybrid"
	svc := New(Deps{Config: cfg})
	_, err := svc.StartSession(context.Background(), model.SessionConfig{})
	assert.Error(t, err)
}

func TestUnknownSession(t *testing.T) {
	svc := New(Deps{})
	ctx := context.Background()

	assert.Error(t, svc.StopSession("nope"))
	_, err := svc.GetStats("nope")
	assert.Error(t, err)
	_, err = svc.SubscribeEvents("nope")
	assert.Error(t, err)
	_, err = svc.ListTargets(ctx, "nope")
	assert.Error(t, err)
	_, err = svc.Refresh(ctx, "nope")
	assert.Error(t, err)
	assert.Error(t, svc.AttachTarget(ctx, "nope", "t"))
	assert.Error(t, svc.DetachTarget("nope", "t"))
}

func TestSubscribesToSettingsChanges(t *testing.T) {
	store := &notifyingStore{}
	svc := New(Deps{Store: store})
	require.Len(t, store.subs, 1)
	store.subs[0]()
	svc.Close()
}

func TestWithDefaults(t *testing.T) {
	svc := New(Deps{})
	cfg := svc.withDefaults(model.SessionConfig{Concurrency: 4})
	assert.Equal(t, "http://127.0.0.1:9222", cfg.DevToolsURL)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 3000, cfg.ProcessTimeoutMS)
	assert.Equal(t, 1000, cfg.PollIntervalMS)
}
