package credentials

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AltairaLabs/rtsession/runtime/events"
	"github.com/AltairaLabs/rtsession/runtime/logger"
)

// DefaultTTL is how long a fetched token is served from the cache.
const DefaultTTL = 5 * time.Minute

const tracerName = "github.com/AltairaLabs/rtsession/runtime/credentials"

// Cache serves tokens per modality, fetching at most once concurrently per modality.
// Errors are returned to every waiting caller and never cached or retried.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	entries *gocache.Cache
	group   singleflight.Group
	fetches atomic.Int64

	emitter *events.Emitter
	tracer  trace.Tracer
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithEmitter publishes credential events.
func WithEmitter(e *events.Emitter) CacheOption {
	return func(c *Cache) { c.emitter = e }
}

// WithTracerProvider sets the tracer provider used for fetch spans.
func WithTracerProvider(tp trace.TracerProvider) CacheOption {
	return func(c *Cache) { c.tracer = tp.Tracer(tracerName) }
}

// NewCache creates a cache in front of fetcher.
func NewCache(fetcher Fetcher, opts ...CacheOption) *Cache {
	c := &Cache{
		fetcher: fetcher,
		ttl:     DefaultTTL,
		now:     time.Now,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = gocache.New(c.ttl, 2*c.ttl)
	return c
}

// GetToken returns the token value for modality.
func (c *Cache) GetToken(ctx context.Context, modality string) (string, error) {
	tok, err := c.Token(ctx, modality)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// Token returns a valid token for modality, from the cache when possible.
// Concurrent callers for the same modality share one fetch. A caller whose
// ctx ends stops waiting, but the shared fetch continues for the others.
func (c *Cache) Token(ctx context.Context, modality string) (Token, error) {
	start := c.now()
	if tok, ok := c.lookup(modality); ok {
		c.emitter.CredentialFetched(modality, true, 0)
		return tok, nil
	}

	ch := c.group.DoChan(modality, func() (any, error) {
		// Another flight may have filled the entry between lookup and DoChan.
		if tok, ok := c.lookup(modality); ok {
			return tok, nil
		}
		return c.fetch(context.WithoutCancel(ctx), modality)
	})

	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			reason := ""
			var fe *FetchError
			if errors.As(res.Err, &fe) {
				reason = string(fe.Reason)
			}
			c.emitter.CredentialFailed(modality, reason, res.Err)
			return Token{}, res.Err
		}
		tok := res.Val.(Token)
		c.emitter.CredentialFetched(modality, res.Shared, c.now().Sub(start))
		return tok, nil
	}
}

// Invalidate drops the cached token for modality.
func (c *Cache) Invalidate(modality string) {
	c.entries.Delete(modality)
}

// Fetches returns how many times the underlying fetcher has been called.
func (c *Cache) Fetches() int64 {
	return c.fetches.Load()
}

func (c *Cache) lookup(modality string) (Token, bool) {
	v, ok := c.entries.Get(modality)
	if !ok {
		return Token{}, false
	}
	tok := v.(Token)
	if !c.now().Before(tok.ExpiresAt) {
		c.entries.Delete(modality)
		return Token{}, false
	}
	return tok, true
}

func (c *Cache) fetch(ctx context.Context, modality string) (Token, error) {
	ctx, span := c.tracer.Start(ctx, "credentials.fetch",
		trace.WithAttributes(attribute.String("rtsession.modality", modality)))
	defer span.End()

	c.fetches.Add(1)
	tok, err := c.fetcher.Fetch(ctx, modality)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "Credential fetch failed", "modality", modality, "error", err)
		return Token{}, err
	}

	fetchedAt := c.now()
	expiresAt := fetchedAt.Add(c.ttl)
	if !tok.ExpiresAt.IsZero() && tok.ExpiresAt.Before(expiresAt) {
		expiresAt = tok.ExpiresAt
	}
	tok.ExpiresAt = expiresAt
	tok.Modality = modality

	if ttl := expiresAt.Sub(fetchedAt); ttl > 0 {
		c.entries.Set(modality, tok, ttl)
	}
	logger.DebugContext(ctx, "Credential fetched", "modality", modality, "expires_at", expiresAt)
	return tok, nil
}
