package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/corkboard/server/internal/api/middleware"
	"github.com/corkboard/server/internal/api/pagination"
	"github.com/corkboard/server/internal/api/problem"
	"github.com/corkboard/server/internal/domain/scans"
	"github.com/corkboard/server/internal/metrics"
)

const (
	defaultMaxImageBytes int64 = 10 << 20
	multipartMemory      int64 = 8 << 20
)

var (
	errUnsupportedMediaType = errors.New("unsupported content type")
	errImageTooLarge        = errors.New("image exceeds the upload limit")
)

// ScanService is the submission and lookup surface the handler needs.
type ScanService interface {
	Submit(ctx context.Context, in scans.SubmitInput) (*scans.SubmitResult, error)
	Get(ctx context.Context, userID, scanID string) (*scans.ScanDetail, error)
	List(ctx context.Context, userID string, after *scans.ListCursor, limit int) (*scans.ScanPage, error)
}

type ScansHandler struct {
	Service       ScanService
	Env           string
	MaxImageBytes int64
}

func NewScansHandler(service ScanService, env string, maxImageBytes int64) *ScansHandler {
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}
	return &ScansHandler{Service: service, Env: env, MaxImageBytes: maxImageBytes}
}

type submitRequest struct {
	ImageBase64 string `json:"image_base64"`
	OCRText     string `json:"ocr_text"`
}

type submitResponse struct {
	JobID  string       `json:"job_id"`
	ScanID string       `json:"scan_id"`
	Status scans.Status `json:"status"`
}

type scanResponse struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	Status        scans.Status    `json:"status"`
	ImageURL      string          `json:"image_url"`
	VintageID     string          `json:"vintage_id,omitempty"`
	RetryCount    int             `json:"retry_count"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ProcessedData json.RawMessage `json:"processed_data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

type scanListResponse struct {
	Items      []scanResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Submit accepts a label photo as multipart, base64 JSON or a raw image body
// and answers 202 once the job is queued.
func (h *ScansHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", errors.New("scan service not configured"), "")
		return
	}

	image, ocrText, err := h.readSubmission(r)
	if err != nil {
		switch {
		case isBodyTooLarge(err) || errors.Is(err, errImageTooLarge):
			problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypePayloadTooLarge, "Image too large", err, h.Env,
				problem.WithDetail(fmt.Sprintf("images are limited to %d bytes", h.MaxImageBytes)))
		case errors.Is(err, errUnsupportedMediaType):
			problem.Write(w, r, http.StatusUnsupportedMediaType, problem.TypeUnsupportedType, "Unsupported media type", err, h.Env)
		default:
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		}
		return
	}

	ctx := r.Context()
	result, err := h.Service.Submit(ctx, scans.SubmitInput{
		UserID:         middleware.UserID(ctx),
		Image:          image,
		OCRText:        ocrText,
		IdempotencyKey: middleware.IdempotencyKey(ctx),
	})
	if err != nil {
		switch {
		case errors.Is(err, scans.ErrDuplicateSubmission):
			problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Duplicate submission", err, h.Env,
				problem.WithDetail("a scan with this Idempotency-Key was already submitted"))
		case errors.Is(err, scans.ErrInvalidImage), errors.Is(err, scans.ErrInvalidInput):
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		}
		return
	}

	metrics.ScansSubmitted.Inc()
	w.Header().Set("Location", "/api/v1/scans/"+result.ScanID)
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:  result.JobID,
		ScanID: result.ScanID,
		Status: result.Status,
	})
}

func (h *ScansHandler) readSubmission(r *http.Request) ([]byte, string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errUnsupportedMediaType, err)
	}

	switch {
	case mediaType == "multipart/form-data":
		return h.readMultipart(r)
	case mediaType == "application/json":
		return h.readBase64JSON(r)
	case strings.HasPrefix(mediaType, "image/"):
		image, err := h.readLimited(r.Body)
		return image, "", err
	default:
		return nil, "", fmt.Errorf("%w: %s", errUnsupportedMediaType, mediaType)
	}
}

func (h *ScansHandler) readMultipart(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, "", err
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, "", FieldError{Field: "image", Message: "missing file part"}
	}
	defer file.Close()

	image, err := h.readLimited(file)
	if err != nil {
		return nil, "", err
	}
	return image, r.FormValue("ocr_text"), nil
}

func (h *ScansHandler) readBase64JSON(r *http.Request) ([]byte, string, error) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, "", err
	}

	encoded := strings.TrimSpace(req.ImageBase64)
	if _, data, ok := strings.Cut(encoded, ";base64,"); ok && strings.HasPrefix(encoded, "data:") {
		encoded = data
	}
	if encoded == "" {
		return nil, "", FieldError{Field: "image_base64", Message: "required"}
	}

	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		image, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, "", FieldError{Field: "image_base64", Message: "not valid base64"}
	}
	if int64(len(image)) > h.MaxImageBytes {
		return nil, "", errImageTooLarge
	}
	return image, req.OCRText, nil
}

func (h *ScansHandler) readLimited(body io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(body, h.MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if n > h.MaxImageBytes {
		return nil, errImageTooLarge
	}
	if n == 0 {
		return nil, FieldError{Field: "image", Message: "empty"}
	}
	return buf.Bytes(), nil
}

func (h *ScansHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	detail, err := h.Service.Get(ctx, middleware.UserID(ctx), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, scans.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Scan not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, toScanResponse(*detail))
}

func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := queryInt(r, "limit")

	var after *scans.ListCursor
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor, err := pagination.DecodeScanCursor(raw)
		if err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env,
				problem.WithErrors(map[string]interface{}{"cursor": "must be a value returned as next_cursor"}))
			return
		}
		after = &cursor
	}

	ctx := r.Context()
	page, err := h.Service.List(ctx, middleware.UserID(ctx), after, limit)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	resp := scanListResponse{Items: make([]scanResponse, 0, len(page.Items))}
	for _, detail := range page.Items {
		resp.Items = append(resp.Items, toScanResponse(detail))
	}
	if page.Next != nil {
		resp.NextCursor = pagination.EncodeScanCursor(*page.Next)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toScanResponse(d scans.ScanDetail) scanResponse {
	return scanResponse{
		ID:            d.ID,
		JobID:         d.JobID,
		Status:        d.Status,
		ImageURL:      d.ImageURL,
		VintageID:     d.VintageID,
		RetryCount:    d.RetryCount,
		ErrorMessage:  d.ErrorMessage,
		ProcessedData: d.ProcessedData,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		ProcessedAt:   d.ProcessedAt,
	}
}
