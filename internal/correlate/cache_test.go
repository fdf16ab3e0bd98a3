package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestRecordLookupRemove(t *testing.T) {
	c := New()
	require.True(t, c.Record("req-1", "Foo"))

	op, ok := c.Lookup("req-1")
	assert.True(t, ok)
	assert.Equal(t, "Foo", op)

	c.Remove("req-1")
	_, ok = c.Lookup("req-1")
	assert.False(t, ok)

	c.Remove("missing")
	assert.Equal(t, 0, c.Len())
}

func TestRecordIgnoresEmpty(t *testing.T) {
	c := New()
	assert.False(t, c.Record("", "Foo"))
	assert.False(t, c.Record("req-1", ""))
	assert.Equal(t, 0, c.Len())
}

func TestTakeConsumesOnce(t *testing.T) {
	c := New()
	c.Record("req-1", "GetAccounts")

	op, ok := c.Take("req-1")
	assert.True(t, ok)
	assert.Equal(t, "GetAccounts", op)

	_, ok = c.Take("req-1")
	assert.False(t, ok)
}

func TestSweepExpiredBoundaries(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	c := New(WithClock(clock.Now))
	c.Record("req-1", "Foo")
	ttl := time.Minute

	assert.Equal(t, 0, c.SweepExpired(start.Add(ttl-time.Second), ttl))
	_, ok := c.Lookup("req-1")
	assert.True(t, ok, "entry younger than ttl must survive")

	assert.Equal(t, 0, c.SweepExpired(start.Add(ttl), ttl))
	_, ok = c.Lookup("req-1")
	assert.True(t, ok, "entry exactly ttl old must survive")

	assert.Equal(t, 1, c.SweepExpired(start.Add(ttl+time.Second), ttl))
	_, ok = c.Lookup("req-1")
	assert.False(t, ok)
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	c := New(WithClock(clock.Now))
	c.Record("old", "A")
	clock.Advance(50 * time.Second)
	c.Record("new", "B")

	removed := c.SweepExpired(start.Add(61*time.Second), DefaultTTL)
	assert.Equal(t, 1, removed)
	_, ok := c.Lookup("new")
	assert.True(t, ok)
}

func TestRunSweepsOnInterval(t *testing.T) {
	start := time.Now()
	clock := &fakeClock{now: start}
	c := New(WithClock(clock.Now), WithTTL(time.Second), WithSweepInterval(5*time.Millisecond))
	c.Record("req-1", "Foo")
	clock.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSizeObserver(t *testing.T) {
	var sizes []int
	c := New(WithSizeObserver(func(n int) { sizes = append(sizes, n) }))
	c.Record("a", "A")
	c.Record("b", "B")
	c.Take("a")
	c.Remove("b")
	c.Remove("b")
	assert.Equal(t, []int{1, 2, 1, 0}, sizes)
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			c.Record(id, "Op")
			c.Lookup(id)
			c.SweepExpired(time.Now(), time.Hour)
			c.Take(id)
		}(i)
	}
	wg.Wait()
}

func TestOperationName(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr error
	}{
		{"object", `{"operationName":"GetAccounts","query":"query GetAccounts { id }"}`, "GetAccounts", nil},
		{"batched", `[{"operationName":"First"},{"operationName":"Second"}]`, "First", nil},
		{"missing", `{"query":"{ me }"}`, "", ErrNoOperationName},
		{"null", `{"operationName":null}`, "", ErrNoOperationName},
		{"empty", `{"operationName":""}`, "", ErrNoOperationName},
		{"not a string", `{"operationName":42}`, "", ErrNoOperationName},
		{"scalar", `"text"`, "", ErrNoOperationName},
		{"not json", `operationName=Foo`, "", ErrNotJSON},
		{"not utf8", "\xff\xfe{}", "", ErrNotUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OperationName([]byte(tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
