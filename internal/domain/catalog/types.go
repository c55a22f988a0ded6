package catalog

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by an insert that lost a uniqueness race.
	ErrConflict             = errors.New("unique conflict")
	ErrIncompleteAttributes = errors.New("producer and wine names are required")
)

type Producer struct {
	ID        string
	Name      string
	Region    string
	Country   string
	Address   string
	CreatedAt time.Time
}

type Wine struct {
	ID           string
	ProducerID   string
	Name         string
	IsNonVintage bool
	Varietals    []string
	CreatedAt    time.Time
}

// Vintage is a wine's release for one year. Year is nil for non-vintage wines.
type Vintage struct {
	ID        string
	WineID    string
	Year      *int
	CreatedAt time.Time
}

// Attributes are the extracted label fields the resolver maps onto the catalog.
type Attributes struct {
	ProducerName string
	WineName     string
	Year         *int
	NonVintage   bool
	Varietals    []string
	Region       string
	Country      string
}

// Resolution identifies the canonical rows for a set of attributes.
type Resolution struct {
	ProducerID     string   `json:"producer_id"`
	WineID         string   `json:"wine_id"`
	VintageID      string   `json:"vintage_id"`
	CreatedEntries []string `json:"created,omitempty"`
	// Conflicts lists the entities whose insert lost a race and were re-read.
	Conflicts []string `json:"-"`
}

// WineSummary is the catalog view used to enrich recommendations.
type WineSummary struct {
	WineID       string
	WineName     string
	ProducerName string
	Region       string
	Country      string
}
