package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockdriver/internal/rules"
	"mockdriver/internal/storage"
	"mockdriver/pkg/model"
)

type staticStore struct {
	s   *model.Settings
	err error
}

func (s staticStore) Get(context.Context) (*model.Settings, error) { return s.s.Clone(), s.err }

type fakeContinuer struct {
	calls []*fetch.ContinueRequestArgs
	err   error
}

func (f *fakeContinuer) ContinueRequest(_ context.Context, args *fetch.ContinueRequestArgs) error {
	f.calls = append(f.calls, args)
	return f.err
}

type fakeRecorder struct {
	recs []*storage.InjectionRecord
}

func (f *fakeRecorder) Save(_ context.Context, rec *storage.InjectionRecord) error {
	f.recs = append(f.recs, rec)
	return nil
}

func settings() *model.Settings {
	return &model.Settings{
		TargetURL:        "https://api.example.com/graphql",
		InjectionEnabled: true,
		HeaderEntries:    []model.HeaderEntry{{Key: "dashboard/accounts", Value: "status=500"}},
		CommonHeaders:    []model.Header{{Name: "X-Mock-Scenario", Value: "default", Enabled: true}},
		OperationOverrides: []model.OperationOverride{{
			OperationName: "GetAccounts",
			Enabled:       true,
			Headers:       []model.Header{{Name: "X-Mock-Scenario", Value: "accounts-500", Enabled: true}},
		}},
	}
}

func paused(url, body string) *fetch.RequestPausedReply {
	ev := &fetch.RequestPausedReply{
		RequestID:    "interception-7",
		ResourceType: network.ResourceTypeXHR,
		Request: network.Request{
			URL:     url,
			Method:  "POST",
			Headers: network.Headers(`{"Content-Type":"application/json"}`),
		},
	}
	if body != "" {
		ev.Request.PostData = &body
	}
	return ev
}

func TestHandleRequestBlockingInjects(t *testing.T) {
	engine := rules.New(rules.Config{Strategy: rules.Blocking{}, Store: staticStore{s: settings()}})
	rec := &fakeRecorder{}
	events := make(chan model.Event, 4)
	h := New(Config{Engine: engine, Recorder: rec, Events: events, Session: "s1"})
	client := &fakeContinuer{}

	res := h.HandleRequest(context.Background(), "tab-1", client, paused("https://api.example.com/graphql", `{"operationName":"GetAccounts"}`))
	require.Equal(t, ResultInjected, res)
	require.Len(t, client.calls, 1)
	assert.Equal(t, fetch.RequestID("interception-7"), client.calls[0].RequestID)
	assert.Equal(t, []fetch.HeaderEntry{
		{Name: "content-type", Value: "application/json"},
		{Name: "x-mock-scenario", Value: "accounts-500"},
	}, client.calls[0].Headers)

	require.Len(t, rec.recs, 1)
	assert.Equal(t, "GetAccounts", rec.recs[0].Operation)
	assert.Equal(t, "blocking", rec.recs[0].Mode)
	assert.Equal(t, "s1", rec.recs[0].SessionID)
	assert.Equal(t, 0, engine.Cache().Len())
}

func TestHandleRequestDeclarativeInjects(t *testing.T) {
	table := rules.NewRuleTable()
	engine := rules.New(rules.Config{Strategy: rules.Declarative{}, Store: staticStore{s: settings()}, Sink: table})
	require.NoError(t, engine.OnInstalled(context.Background()))
	h := New(Config{Engine: engine})
	client := &fakeContinuer{}

	res := h.HandleRequest(context.Background(), "tab-1", client, paused("https://api.example.com/graphql", ""))
	require.Equal(t, ResultInjected, res)
	assert.Contains(t, client.calls[0].Headers, fetch.HeaderEntry{Name: "x-ov-mock", Value: "dashboard/accounts | Prefer code=500"})
}

func TestHandleRequestPassesUnmatched(t *testing.T) {
	engine := rules.New(rules.Config{Strategy: rules.Blocking{}, Store: staticStore{s: settings()}})
	events := make(chan model.Event, 4)
	h := New(Config{Engine: engine, Events: events})
	client := &fakeContinuer{}

	res := h.HandleRequest(context.Background(), "tab-1", client, paused("https://cdn.example.com/app.js", ""))
	assert.Equal(t, ResultPassed, res)
	require.Len(t, client.calls, 1)
	assert.Nil(t, client.calls[0].Headers, "headers untouched when nothing is injected")
	evt := <-events
	assert.Equal(t, ResultPassed, evt.Type)
}

func TestHandleRequestSettingsErrorStillContinues(t *testing.T) {
	engine := rules.New(rules.Config{Strategy: rules.Blocking{}, Store: staticStore{err: errors.New("storage down")}})
	h := New(Config{Engine: engine})
	client := &fakeContinuer{}

	res := h.HandleRequest(context.Background(), "tab-1", client, paused("https://api.example.com/graphql", `{"operationName":"GetAccounts"}`))
	assert.Equal(t, ResultPassed, res)
	require.Len(t, client.calls, 1)
	assert.Nil(t, client.calls[0].Headers)
}

func TestHandleRequestContinueFailure(t *testing.T) {
	h := New(Config{})
	client := &fakeContinuer{err: errors.New("target closed")}
	assert.Equal(t, ResultFailed, h.HandleRequest(context.Background(), "tab-1", client, paused("https://x", "")))

	engine := rules.New(rules.Config{Strategy: rules.Blocking{}, Store: staticStore{s: settings()}})
	h = New(Config{Engine: engine})
	assert.Equal(t, ResultFailed, h.HandleRequest(context.Background(), "tab-1", client, paused("https://api.example.com/graphql", "")))
}
