package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/corkboard/server/internal/extraction"

// Completer is the model call used by the Extractor.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// Result is a successful extraction. JSON is the validated label encoded for
// storage in the job's processed data.
type Result struct {
	Label    Label
	JSON     json.RawMessage
	Duration time.Duration
}

type Extractor struct {
	model   Completer
	timeout time.Duration
}

func NewExtractor(model Completer, timeout time.Duration) *Extractor {
	return &Extractor{model: model, timeout: timeout}
}

// Extract runs one model call for req and validates the reply.
func (e *Extractor) Extract(ctx context.Context, req Request) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "extraction.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", req.JobID),
		attribute.Bool("ocr", req.OCRText != ""),
	)

	messages, err := BuildMessages(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	content, err := e.model.Complete(ctx, messages)
	elapsed := time.Since(start)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	label, err := ParseLabel(content)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	raw, err := json.Marshal(label)
	if err != nil {
		return nil, fmt.Errorf("encode label: %w", err)
	}
	span.SetAttributes(attribute.Float64("confidence", label.Confidence))
	return &Result{Label: *label, JSON: raw, Duration: elapsed}, nil
}
