package client

import (
	"context"
	"errors"
	"reflect"

	"go.uber.org/zap"

	"tetrio-api/pkg/cache"
	"tetrio-api/pkg/models"
)

// Fetch returns the envelope for route, from the cache when a live entry
// exists, otherwise through the rate limited dispatcher. Successful envelopes
// carrying cache metadata and data are stored for their server supplied TTL;
// a failure to store is logged and does not fail the fetch.
//
// Envelopes served from an in-process cache are shared between callers and
// must not be modified.
func Fetch[T any](ctx context.Context, c *Client, route, session string) (*models.Envelope[T], error) {
	if err := checkSession(route, session); err != nil {
		return nil, err
	}
	key := BuildKey(route, session)

	cached, err := lookup[T](ctx, c, key, route)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	if !c.coalesce {
		return fetchMiss[T](ctx, c, key, route, session)
	}

	// Different payload types for one route must not share a flight
	flight := key + keySeparator + reflect.TypeOf((*T)(nil)).Elem().String()
	v, err, shared := c.group.Do(flight, func() (any, error) {
		return fetchMiss[T](ctx, c, key, route, session)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("joined in-flight request", zap.String("route", route))
	}
	return v.(*models.Envelope[T]), nil
}

// Peek returns the cached envelope for route without going over the wire.
// It returns (nil, nil) when nothing live is cached.
func Peek[T any](ctx context.Context, c *Client, route, session string) (*models.Envelope[T], error) {
	if err := checkSession(route, session); err != nil {
		return nil, err
	}
	return lookup[T](ctx, c, BuildKey(route, session), route)
}

// Prime seeds the cache for route with a response body obtained elsewhere.
// A live cached entry wins over body and is returned instead.
func Prime[T any](ctx context.Context, c *Client, route, session string, body []byte) (*models.Envelope[T], error) {
	if err := checkSession(route, session); err != nil {
		return nil, err
	}
	key := BuildKey(route, session)

	cached, err := lookup[T](ctx, c, key, route)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	env, err := parse[T](c, route, body)
	if err != nil {
		return nil, err
	}

	storeIfEligible(ctx, c, key, route, env)
	return env, nil
}

func lookup[T any](ctx context.Context, c *Client, key, route string) (*models.Envelope[T], error) {
	env, err := cache.Lookup[T](ctx, c.backend, key)
	if err != nil {
		kind := KindBackend
		if errors.Is(err, cache.ErrConversion) {
			kind = KindCacheConversion
		}
		c.metrics.recordLookup(ctx, resultError)
		c.logger.Error("cache lookup failed", zap.String("route", route), zap.Error(err))
		return nil, &Error{Kind: kind, Route: route, Err: err}
	}

	if env == nil {
		c.metrics.recordLookup(ctx, resultMiss)
		return nil, nil
	}

	c.metrics.recordLookup(ctx, resultHit)
	c.logger.Debug("cache hit", zap.String("route", route))
	return env, nil
}

func fetchMiss[T any](ctx context.Context, c *Client, key, route, session string) (*models.Envelope[T], error) {
	req, err := c.newRequest(ctx, route, session)
	if err != nil {
		return nil, err
	}

	body, err := c.dispatcher.Execute(ctx, req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("route", route), zap.Error(err))
		return nil, &Error{Kind: KindTransport, Route: route, Err: err}
	}

	env, err := parse[T](c, route, body)
	if err != nil {
		return nil, err
	}

	storeIfEligible(ctx, c, key, route, env)
	return env, nil
}

func parse[T any](c *Client, route string, body []byte) (*models.Envelope[T], error) {
	env, err := ParseEnvelope[T](body)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			perr.Route = route
		}
		c.logger.Warn("failed to parse response",
			zap.String("route", route),
			zap.Error(err))
		return nil, err
	}
	return env, nil
}

// storeIfEligible caches env when it is a success entry and reports whether it did
func storeIfEligible[T any](ctx context.Context, c *Client, key, route string, env *models.Envelope[T]) bool {
	entry, ok := env.SuccessEntry()
	if !ok {
		c.metrics.recordStore(ctx, outcomeSkipped)
		return false
	}

	if err := cache.Store(ctx, c.backend, key, entry); err != nil {
		kind := KindBackend
		if errors.Is(err, cache.ErrConversion) {
			kind = KindConversion
		}
		c.metrics.recordStore(ctx, outcomeError)
		c.logger.Warn("failed to cache response",
			zap.String("route", route),
			zap.Error(&Error{Kind: kind, Route: route, Err: err}))
		return false
	}

	c.metrics.recordStore(ctx, outcomeStored)
	c.logger.Debug("response cached",
		zap.String("route", route),
		zap.Uint64("cached_until", entry.Cache.CachedUntil))
	return true
}
