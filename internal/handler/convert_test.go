package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/epochapi/epochapi/internal/convert"
	"github.com/epochapi/epochapi/internal/metrics"
)

func newConvertHandler() (*ConvertHandler, *metrics.InMemoryRecorder) {
	rec := metrics.NewInMemory()
	h := NewConvertHandler(discardLogger(), rec)
	h.now = func() time.Time { return time.Date(2025, 6, 8, 8, 37, 43, 0, time.UTC) }
	return h, rec
}

func TestConvertHandler_EpochToDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantDate   string
		wantFmt    string
	}{
		{"defaults", "timestamp=1749371863", http.StatusOK, "2025-06-08T08:37:43+00:00", "2025-06-08T08:37:43+00:00"},
		{"rfc in berlin", "timestamp=1749371863&format=rfc&timezone=Europe/Berlin", http.StatusOK, "2025-06-08T10:37:43+02:00", "Sun, 08 Jun 2025 10:37:43 +0200"},
		{"missing timestamp", "", http.StatusBadRequest, "", ""},
		{"non-integer timestamp", "timestamp=12.5", http.StatusBadRequest, "", ""},
		{"unknown timezone", "timestamp=0&timezone=Moon/Base", http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, _ := newConvertHandler()
			rec := httptest.NewRecorder()
			h.EpochToDate(rec, httptest.NewRequest(http.MethodGet, "/api/convert/epoch-to-date?"+tt.query, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if body := decodeErrorBody(t, rec); body.Code != CodeInvalidInput || body.Message == "" {
					t.Errorf("error = %+v", body)
				}
				return
			}

			var resp convert.EpochResult
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Date != tt.wantDate || resp.Formatted != tt.wantFmt {
				t.Errorf("result = %+v", resp)
			}
		})
	}
}

func TestConvertHandler_DateToEpoch(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler()

	rec := httptest.NewRecorder()
	h.DateToEpoch(rec, httptest.NewRequest(http.MethodGet, "/api/convert/date-to-epoch?date=2025-06-08+08:37:43&timezone=UTC", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp convert.DateResult
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Timestamp != 1749371863 || resp.Timezone != "UTC" {
		t.Errorf("result = %+v", resp)
	}

	for _, query := range []string{"", "date=2025-13-45", "date=2025-06-08&timezone=Nope/Nope"} {
		rec := httptest.NewRecorder()
		h.DateToEpoch(rec, httptest.NewRequest(http.MethodGet, "/api/convert/date-to-epoch?"+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q status = %d, want 400", query, rec.Code)
		}
	}
}

func TestConvertHandler_Batch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantTotal  int
	}{
		{"epochs", `{"items":[0,1749371863,"bad"],"input_type":"epoch"}`, http.StatusOK, 3},
		{"dates", `{"items":["2025-06-08"],"input_type":"date","output_format":"iso"}`, http.StatusOK, 1},
		{"empty items", `{"items":[],"input_type":"epoch"}`, http.StatusBadRequest, 0},
		{"bad input type", `{"items":[1],"input_type":"week"}`, http.StatusBadRequest, 0},
		{"malformed", `[`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, _ := newConvertHandler()
			rec := httptest.NewRecorder()
			h.Batch(rec, httptest.NewRequest(http.MethodPost, "/api/convert/batch", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp struct {
				Results        []map[string]any `json:"results"`
				TotalProcessed int              `json:"total_processed"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.TotalProcessed != tt.wantTotal || len(resp.Results) != tt.wantTotal {
				t.Errorf("total = %d results = %d, want %d", resp.TotalProcessed, len(resp.Results), tt.wantTotal)
			}
		})
	}
}

func TestConvertHandler_BatchTooMany(t *testing.T) {
	t.Parallel()

	items := make([]string, convert.MaxBatchItems+1)
	for i := range items {
		items[i] = fmt.Sprint(i)
	}
	body := `{"input_type":"epoch","items":[` + strings.Join(items, ",") + `]}`

	h, _ := newConvertHandler()
	rec := httptest.NewRecorder()
	h.Batch(rec, httptest.NewRequest(http.MethodPost, "/api/convert/batch", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if msg := decodeErrorBody(t, rec).Message; !strings.Contains(msg, "1000") {
		t.Errorf("message %q should name the limit", msg)
	}
}

func TestConvertHandler_CurrentTimestamp(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler()
	rec := httptest.NewRecorder()
	h.CurrentTimestamp(rec, httptest.NewRequest(http.MethodGet, "/api/current-timestamp", nil))

	var resp convert.CurrentResult
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := convert.CurrentResult{Timestamp: 1749371863, ISODate: "2025-06-08T08:37:43+00:00", ISOWeek: 23, DayOfYear: 159}
	if resp != want {
		t.Errorf("CurrentTimestamp = %+v, want %+v", resp, want)
	}
}

func TestConvertHandler_WeekNumber(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler()

	rec := httptest.NewRecorder()
	h.WeekNumber(rec, httptest.NewRequest(http.MethodGet, "/api/week-number?date=2021-01-01", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp convert.WeekResult
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ISOWeek != 53 || resp.WeekYear != 2020 || resp.DayOfWeek != 5 {
		t.Errorf("WeekNumber = %+v", resp)
	}

	rec = httptest.NewRecorder()
	h.WeekNumber(rec, httptest.NewRequest(http.MethodGet, "/api/week-number", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing date status = %d, want 400", rec.Code)
	}
}

func TestConvertHandler_FormatsAndMetrics(t *testing.T) {
	t.Parallel()

	h, m := newConvertHandler()

	rec := httptest.NewRecorder()
	h.Formats(rec, httptest.NewRequest(http.MethodGet, "/api/formats", nil))

	var resp FormatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Formats) != 3 {
		t.Errorf("formats = %+v", resp.Formats)
	}

	h.EpochToDate(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/convert/epoch-to-date", nil))

	conv := m.Snapshot().Conversions
	if conv["formats/ok"] != 1 || conv["epoch_to_date/invalid"] != 1 {
		t.Errorf("Conversions = %v", conv)
	}
}
