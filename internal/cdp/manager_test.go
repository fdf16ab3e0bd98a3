package cdp

import (
	"context"
	"errors"
	"testing"

	"github.com/mafredri/cdp/devtool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockdriver/internal/rules"
	"mockdriver/pkg/model"
)

type fakeLister struct {
	targets []*devtool.Target
	err     error
}

func (f *fakeLister) List(context.Context) ([]*devtool.Target, error) { return f.targets, f.err }

type recordingTabs struct {
	activated []string
	updated   []rules.TabUpdate
}

func (r *recordingTabs) OnTabActivated(_ context.Context, id string) error {
	r.activated = append(r.activated, id)
	return nil
}

func (r *recordingTabs) OnTabUpdated(_ context.Context, u rules.TabUpdate) error {
	r.updated = append(r.updated, u)
	return nil
}

func browserTargets() []*devtool.Target {
	return []*devtool.Target{
		{ID: "sw-1", Type: "service_worker", URL: "https://app.example.com/sw.js"},
		{ID: "tab-1", Type: "page", URL: "https://app.internal.example.com/home", Title: "Home"},
		{ID: "tab-2", Type: "page", URL: "https://other.com", Title: "Other"},
	}
}

func TestTabContext(t *testing.T) {
	m := New(Config{Lister: &fakeLister{targets: browserTargets()}})
	ctx := context.Background()

	u, ok, err := m.ActiveTabURL(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://app.internal.example.com/home", u)

	focused, err := m.IsWindowFocused(ctx, "tab-1")
	require.NoError(t, err)
	assert.True(t, focused)
	focused, err = m.IsWindowFocused(ctx, "tab-2")
	require.NoError(t, err)
	assert.False(t, focused)
}

func TestTabContextWithoutPages(t *testing.T) {
	m := New(Config{Lister: &fakeLister{}})
	_, ok, err := m.ActiveTabURL(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	m = New(Config{Lister: &fakeLister{err: errors.New("connection refused")}})
	_, _, err = m.ActiveTabURL(context.Background())
	assert.Error(t, err)
}

func TestListTargets(t *testing.T) {
	m := New(Config{Lister: &fakeLister{targets: browserTargets()}})
	infos, err := m.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, model.TargetID("tab-1"), infos[0].ID)
	assert.True(t, infos[0].IsCurrent)
	assert.False(t, infos[1].IsCurrent)
	assert.Equal(t, "Other", infos[1].Title)
}

func TestPollTabs(t *testing.T) {
	lister := &fakeLister{targets: browserTargets()}
	tabs := &recordingTabs{}
	m := New(Config{Lister: lister, Tabs: tabs})
	ctx := context.Background()

	st := m.pollTabs(ctx, tabState{})
	assert.Equal(t, []string{"tab-1"}, tabs.activated)

	st = m.pollTabs(ctx, st)
	assert.Len(t, tabs.activated, 1, "no change, no trigger")
	assert.Empty(t, tabs.updated)

	lister.targets[1].URL = "https://app.internal.example.com/settings"
	st = m.pollTabs(ctx, st)
	require.Len(t, tabs.updated, 1)
	assert.Equal(t, rules.TabUpdate{WindowID: "tab-1", Active: true, URLChanged: true}, tabs.updated[0])

	lister.targets = lister.targets[2:]
	m.pollTabs(ctx, st)
	assert.Equal(t, []string{"tab-1", "tab-2"}, tabs.activated)
}

func TestEnableWithoutTargets(t *testing.T) {
	m := New(Config{Lister: &fakeLister{}})
	assert.ErrorIs(t, m.Enable(), ErrNotAttached)
	assert.ErrorIs(t, m.Disable(context.Background()), ErrNotAttached)
	assert.NoError(t, m.Detach())
}

func TestAttachUnknownTarget(t *testing.T) {
	m := New(Config{Lister: &fakeLister{targets: browserTargets()}})
	assert.Error(t, m.AttachTarget(context.Background(), "missing"))
}
