// Package vectorindex defines the narrow contract the similarity engine needs
// from an embedding store: fetch one vector by key and run a nearest-neighbour
// query. Concrete indexes live with their storage backend.
package vectorindex

import (
	"context"
	"errors"
	"strings"
)

const winePrefix = "wine_"

// ErrUnavailable wraps backend failures so callers can tell them apart from
// missing vectors, which are not errors.
var ErrUnavailable = errors.New("vector index unavailable")

// Metadata is stored alongside each wine vector.
type Metadata struct {
	WineName     string `json:"wine_name,omitempty"`
	ProducerName string `json:"producer_name,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
}

// Match is one nearest-neighbour hit. Distance is cosine distance, so
// 1 - Distance is the similarity.
type Match struct {
	Key      string
	Distance float64
	Metadata *Metadata
}

type QueryOptions struct {
	TopK           int
	ReturnDistance bool
	ReturnMetadata bool
}

type Index interface {
	// GetVector returns the stored vector for key; ok is false when absent.
	GetVector(ctx context.Context, key string) (vector []float32, ok bool, err error)
	// QueryVectors returns up to opts.TopK nearest records, closest first.
	QueryVectors(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error)
}

// WineKey is the index key of a wine's embedding.
func WineKey(wineID string) string {
	return winePrefix + wineID
}

// WineIDFromKey reverses WineKey.
func WineIDFromKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, winePrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
