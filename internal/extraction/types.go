package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrInvocation covers transport failures, timeouts and non-2xx replies.
	ErrInvocation = errors.New("model invocation failed")
	// ErrNoResponse means the model replied without any content.
	ErrNoResponse = errors.New("model returned no response")
	// ErrNoInput means the job carries neither OCR text nor an image.
	ErrNoInput = errors.New("job has neither ocr text nor image url")
)

// ParseError reports model content that is not the expected JSON document.
type ParseError struct {
	Reason  string
	Content string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model output: %s", e.Reason)
}

// Request is the input for one extraction.
type Request struct {
	JobID    string
	OCRText  string
	ImageURL string
}

// Label holds validated wine attributes read from a label.
type Label struct {
	ProducerName string   `json:"producer_name" validate:"required,max=300"`
	WineName     string   `json:"wine_name" validate:"required,max=300"`
	Vintage      *int     `json:"vintage" validate:"omitempty,gte=1800,lte=2100"`
	IsNonVintage bool     `json:"is_non_vintage"`
	Varietals    []string `json:"varietals" validate:"max=20,dive,max=100"`
	Region       string   `json:"region" validate:"max=200"`
	Country      string   `json:"country" validate:"max=100"`
	Confidence   float64  `json:"confidence" validate:"gte=0,lte=1"`
}
