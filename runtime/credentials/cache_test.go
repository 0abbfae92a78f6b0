package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AltairaLabs/rtsession/pkg/errors"
	"github.com/AltairaLabs/rtsession/runtime/events"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingFetcher returns "tok-<n>" and optionally blocks until release is closed.
type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	expiry  time.Time
}

func (f *countingFetcher) Fetch(ctx context.Context, modality string) (Token, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return Token{}, f.err
	}
	return Token{Value: modality + "-tok-" + string(rune('0'+n)), ExpiresAt: f.expiry}, nil
}

func TestCacheCoalescesConcurrentFetches(t *testing.T) {
	fetcher := &countingFetcher{release: make(chan struct{})}
	cache := NewCache(fetcher)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetToken(context.Background(), "text")
		}(i)
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, int64(1), cache.Fetches())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "text-tok-1", results[i])
	}
}

func TestCacheKeysByModality(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher)

	text, err := cache.GetToken(context.Background(), "text")
	require.NoError(t, err)
	voice, err := cache.GetToken(context.Background(), "text_and_audio")
	require.NoError(t, err)

	assert.NotEqual(t, text, voice)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, WithClock(clock.Now), WithTTL(5*time.Minute))

	first, err := cache.GetToken(context.Background(), "text")
	require.NoError(t, err)

	clock.Advance(5*time.Minute - time.Second)
	again, err := cache.GetToken(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	// Invalid once now >= expiresAt.
	clock.Advance(time.Second)
	refreshed, err := cache.GetToken(context.Background(), "text")
	require.NoError(t, err)
	assert.NotEqual(t, first, refreshed)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestCacheHonorsEarlierServerExpiry(t *testing.T) {
	clock := newFakeClock()
	fetcher := &countingFetcher{expiry: clock.Now().Add(time.Minute)}
	cache := NewCache(fetcher, WithClock(clock.Now))

	tok, err := cache.Token(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute), tok.ExpiresAt)

	clock.Advance(time.Minute)
	_, err = cache.Token(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestCacheDoesNotCacheOrRetryErrors(t *testing.T) {
	fetcher := &countingFetcher{err: &FetchError{Modality: "text", Reason: ReasonRejected, StatusCode: 401}}
	bus := events.NewEventBus()
	defer bus.Close()
	var failures atomic.Int32
	bus.Subscribe(events.EventCredentialFailed, func(e *events.Event) {
		if e.Data.(events.CredentialFailedData).Reason == "rejected" {
			failures.Add(1)
		}
	})
	cache := NewCache(fetcher, WithEmitter(events.NewEmitter(bus, "s1")))

	_, err := cache.GetToken(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, pkgerrors.KindCredential, pkgerrors.KindOf(err))
	assert.Equal(t, int32(1), fetcher.calls.Load(), "no automatic retry")

	_, err = cache.GetToken(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load(), "errors are not cached")

	bus.Flush()
	assert.Equal(t, int32(2), failures.Load())
}

func TestCacheCallerCancellation(t *testing.T) {
	fetcher := &countingFetcher{release: make(chan struct{})}
	cache := NewCache(fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cache.GetToken(ctx, "text")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-errCh, context.Canceled))

	// The shared fetch finishes and fills the cache for later callers.
	close(fetcher.release)
	require.Eventually(t, func() bool {
		_, ok := cache.lookup("text")
		return ok
	}, time.Second, time.Millisecond)
	tok, err := cache.GetToken(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "text-tok-1", tok)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestCacheInvalidate(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher)

	_, err := cache.GetToken(context.Background(), "text")
	require.NoError(t, err)
	cache.Invalidate("text")
	_, err = cache.GetToken(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestFetcherFunc(t *testing.T) {
	var f Fetcher = FetcherFunc(func(_ context.Context, modality string) (Token, error) {
		return Token{Value: "v-" + modality}, nil
	})
	tok, err := f.Fetch(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "v-text", tok.Value)
}
