package extraction

import "strings"

const systemPrompt = `You read wine labels. Reply with one JSON object and nothing else, using these keys:
producer_name (string), wine_name (string), vintage (integer year or null),
is_non_vintage (boolean), varietals (array of strings), region (string),
country (string), confidence (number from 0 to 1).
Use empty strings for unknown text fields.`

// BuildMessages prefers OCR text; the image is only sent when no text was
// captured on the device.
func BuildMessages(req Request) ([]ChatMessage, error) {
	system := ChatMessage{Role: "system", Content: systemPrompt}

	if text := strings.TrimSpace(req.OCRText); text != "" {
		return []ChatMessage{
			system,
			{Role: "user", Content: "Label text:\n" + text},
		}, nil
	}

	if url := strings.TrimSpace(req.ImageURL); url != "" {
		return []ChatMessage{
			system,
			{Role: "user", Content: []ContentPart{
				{Type: "text", Text: "Extract the wine details from this label photo."},
				{Type: "image_url", ImageURL: &ImageURL{URL: url}},
			}},
		}, nil
	}

	return nil, ErrNoInput
}
