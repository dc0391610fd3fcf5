package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// APIError is the error message the API sends on unsuccessful responses.
// The API sends it either as a bare string or as {"msg": "..."}.
type APIError struct {
	Msg string `json:"msg"`
}

func (e *APIError) Error() string {
	return e.Msg
}

// MarshalJSON encodes the error as a bare string
func (e APIError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Msg)
}

// UnmarshalJSON accepts both the string and the object form
func (e *APIError) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.Msg)
	}

	var obj struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("error must be a string or an object with msg: %w", err)
	}
	e.Msg = obj.Msg
	return nil
}

// Envelope is the wrapper around every API response.
//
// Success does not imply Data is set: a lookup can succeed without a match.
// Cache is set whenever the server attached caching instructions, whatever
// the value of Success.
type Envelope[T any] struct {
	Success bool           `json:"success"`
	Cache   *CacheMetadata `json:"cache,omitempty"`
	Data    *T             `json:"data,omitempty"`
	Error   *APIError      `json:"error,omitempty"`
}

// SuccessEntry narrows the envelope to the shape a cache backend may store.
// It reports false unless the envelope is successful and carries both cache
// metadata and data.
func (e *Envelope[T]) SuccessEntry() (*SuccessEntry[T], bool) {
	if e == nil || !e.Success || e.Cache == nil || e.Data == nil {
		return nil, false
	}
	return &SuccessEntry[T]{
		Success: true,
		Cache:   *e.Cache,
		Data:    *e.Data,
	}, true
}

// SuccessEntry is a successful envelope with mandatory cache metadata and data.
type SuccessEntry[T any] struct {
	Success bool          `json:"success"`
	Cache   CacheMetadata `json:"cache"`
	Data    T             `json:"data"`
}

// Metadata returns the cache instructions of the entry
func (s *SuccessEntry[T]) Metadata() CacheMetadata {
	return s.Cache
}

// Envelope widens the entry back into an envelope. The returned envelope
// points into s; when s is shared through a cache, callers must not mutate it.
func (s *SuccessEntry[T]) Envelope() *Envelope[T] {
	return &Envelope[T]{
		Success: s.Success,
		Cache:   &s.Cache,
		Data:    &s.Data,
	}
}

// RawEntry is a stored SuccessEntry whose data has not been decoded yet.
type RawEntry struct {
	Success bool            `json:"success"`
	Cache   CacheMetadata   `json:"cache"`
	Data    json.RawMessage `json:"data"`
}

// Metadata returns the cache instructions of the entry
func (r *RawEntry) Metadata() CacheMetadata {
	return r.Cache
}
