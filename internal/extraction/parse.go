package extraction

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// rawLabel accepts the key aliases models commonly use before the values are
// copied into a Label.
type rawLabel struct {
	ProducerName *string  `json:"producer_name"`
	Producer     *string  `json:"producer"`
	Winery       *string  `json:"winery"`
	WineName     *string  `json:"wine_name"`
	Vintage      *int     `json:"vintage"`
	Year         *int     `json:"year"`
	IsNonVintage bool     `json:"is_non_vintage"`
	Varietals    []string `json:"varietals"`
	Region       string   `json:"region"`
	Country      string   `json:"country"`
	Confidence   *float64 `json:"confidence"`
}

// ParseLabel validates model output into a Label. Anything other than a
// single JSON object of the expected shape is a *ParseError.
func ParseLabel(content string) (*Label, error) {
	body := stripCodeFence(strings.TrimSpace(content))
	if body == "" {
		return nil, ErrNoResponse
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var raw rawLabel
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Reason: err.Error(), Content: truncate(content, 500)}
	}
	if dec.More() {
		return nil, &ParseError{Reason: "trailing data after JSON object", Content: truncate(content, 500)}
	}

	label := Label{
		ProducerName: strings.TrimSpace(firstNonEmpty(raw.ProducerName, raw.Producer, raw.Winery)),
		WineName:     strings.TrimSpace(firstNonEmpty(raw.WineName)),
		Vintage:      raw.Vintage,
		IsNonVintage: raw.IsNonVintage,
		Varietals:    raw.Varietals,
		Region:       strings.TrimSpace(raw.Region),
		Country:      strings.TrimSpace(raw.Country),
	}
	if label.Vintage == nil {
		label.Vintage = raw.Year
	}
	if raw.Confidence != nil {
		label.Confidence = *raw.Confidence
	}

	if err := validate.Struct(label); err != nil {
		return nil, &ParseError{Reason: err.Error(), Content: truncate(content, 500)}
	}
	return &label, nil
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return *v
		}
	}
	return ""
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
