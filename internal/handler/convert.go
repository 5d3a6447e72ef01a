package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/epochapi/epochapi/internal/convert"
	"github.com/epochapi/epochapi/internal/metrics"
	"github.com/epochapi/epochapi/internal/middleware"
)

// Conversion kinds, used as metric labels.
const (
	kindEpochToDate = "epoch_to_date"
	kindDateToEpoch = "date_to_epoch"
	kindBatch       = "batch"
	kindCurrent     = "current_timestamp"
	kindWeekNumber  = "week_number"
	kindFormats     = "formats"
)

// ConvertHandler serves the conversion endpoints.
type ConvertHandler struct {
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewConvertHandler creates a new ConvertHandler. A nil recorder discards metrics.
func NewConvertHandler(logger *slog.Logger, recorder metrics.Recorder) *ConvertHandler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &ConvertHandler{logger: logger, metrics: recorder, now: time.Now}
}

// EpochToDate converts a Unix timestamp to a date.
// GET /api/convert/epoch-to-date?timestamp=&format=&timezone=
func (h *ConvertHandler) EpochToDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	raw := strings.TrimSpace(q.Get("timestamp"))
	if raw == "" {
		h.fail(w, r, kindEpochToDate, convert.ErrMissingParameter, "timestamp parameter is required")
		return
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.fail(w, r, kindEpochToDate, convert.ErrInvalidTimestamp, "timestamp must be a valid integer")
		return
	}

	format := q.Get("format")
	if format == "" {
		format = convert.FormatISO
	}

	res, err := convert.EpochToDate(ts, format, q.Get("timezone"))
	if err != nil {
		h.fail(w, r, kindEpochToDate, err, "")
		return
	}
	h.ok(w, kindEpochToDate, res)
}

// DateToEpoch converts a date to a Unix timestamp.
// GET /api/convert/date-to-epoch?date=&timezone=
func (h *ConvertHandler) DateToEpoch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if strings.TrimSpace(q.Get("date")) == "" {
		h.fail(w, r, kindDateToEpoch, convert.ErrMissingParameter, "date parameter is required")
		return
	}

	res, err := convert.DateToEpoch(q.Get("date"), q.Get("timezone"))
	if err != nil {
		h.fail(w, r, kindDateToEpoch, err, "")
		return
	}
	h.ok(w, kindDateToEpoch, res)
}

// Batch converts up to convert.MaxBatchItems timestamps or dates.
// POST /api/convert/batch
func (h *ConvertHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req convert.BatchRequest
	if !decodeJSON(w, r, &req, true) {
		h.metrics.IncConversion(kindBatch, "invalid")
		return
	}

	res, err := convert.Batch(req)
	if err != nil {
		h.fail(w, r, kindBatch, err, "")
		return
	}
	h.ok(w, kindBatch, res)
}

// CurrentTimestamp reports the current instant.
// GET /api/current-timestamp
func (h *ConvertHandler) CurrentTimestamp(w http.ResponseWriter, r *http.Request) {
	h.ok(w, kindCurrent, convert.Current(h.now()))
}

// WeekNumber reports the ISO week of a date.
// GET /api/week-number?date=
func (h *ConvertHandler) WeekNumber(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if strings.TrimSpace(date) == "" {
		h.fail(w, r, kindWeekNumber, convert.ErrMissingParameter, "date parameter is required")
		return
	}

	res, err := convert.WeekNumber(date)
	if err != nil {
		h.fail(w, r, kindWeekNumber, err, "")
		return
	}
	h.ok(w, kindWeekNumber, res)
}

// FormatsResponse lists the supported output formats.
type FormatsResponse struct {
	Formats []convert.Format `json:"formats"`
}

// Formats lists the supported output formats.
// GET /api/formats
func (h *ConvertHandler) Formats(w http.ResponseWriter, r *http.Request) {
	h.ok(w, kindFormats, FormatsResponse{Formats: convert.Formats()})
}

func (h *ConvertHandler) ok(w http.ResponseWriter, kind string, body any) {
	h.metrics.IncConversion(kind, "ok")
	writeJSON(w, http.StatusOK, body)
}

// fail maps conversion errors to responses. message overrides err's text.
func (h *ConvertHandler) fail(w http.ResponseWriter, r *http.Request, kind string, err error, message string) {
	if !errors.Is(err, convert.ErrInvalidInput) {
		h.metrics.IncConversion(kind, "error")
		h.logger.Error("conversion failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, middleware.CodeInternal, "Conversion failed")
		return
	}

	h.metrics.IncConversion(kind, "invalid")
	if message == "" {
		message = err.Error()
	}
	writeError(w, http.StatusBadRequest, CodeInvalidInput, message)
}
