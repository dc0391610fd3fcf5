package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tetrio-api/pkg/models"
)

// ErrConversion marks a stored value that could not be converted to or from
// the requested payload type.
var ErrConversion = errors.New("cache conversion failed")

// Item is a storable success entry. Both *models.SuccessEntry[T] and
// *models.RawEntry implement it.
type Item interface {
	Metadata() models.CacheMetadata
}

// Backend defines the operations a cache for API responses must provide
type Backend interface {
	// Lookup returns the entry stored under key.
	// A missing or expired key is not an error: it returns (nil, nil).
	Lookup(ctx context.Context, key string) (Item, error)

	// Store saves item under key for the time left until its cached_until.
	// Items that are already expired are not stored.
	Store(ctx context.Context, key string, item Item) error
}

// Pinger is implemented by backends that can report their health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Lookup fetches key from b and converts the stored entry to an envelope of T.
// It returns (nil, nil) on a miss.
func Lookup[T any](ctx context.Context, b Backend, key string) (*models.Envelope[T], error) {
	item, err := b.Lookup(ctx, key)
	if err != nil || item == nil {
		return nil, err
	}
	return decodeItem[T](item)
}

// Store saves a success entry of T in b
func Store[T any](ctx context.Context, b Backend, key string, entry *models.SuccessEntry[T]) error {
	return b.Store(ctx, key, entry)
}

func decodeItem[T any](item Item) (*models.Envelope[T], error) {
	switch v := item.(type) {
	case *models.SuccessEntry[T]:
		// Same payload type: hand out the shared entry.
		return v.Envelope(), nil
	case *models.RawEntry:
		return decodeRaw[T](v)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to marshal stored %T: %v", ErrConversion, item, err)
		}
		var raw models.RawEntry
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal stored %T: %v", ErrConversion, item, err)
		}
		return decodeRaw[T](&raw)
	}
}

func decodeRaw[T any](raw *models.RawEntry) (*models.Envelope[T], error) {
	entry := &models.SuccessEntry[T]{
		Success: raw.Success,
		Cache:   raw.Cache,
	}
	if err := json.Unmarshal(raw.Data, &entry.Data); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal cached data: %v", ErrConversion, err)
	}
	return entry.Envelope(), nil
}
