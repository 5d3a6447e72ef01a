package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxBatchItems bounds a single batch request.
const MaxBatchItems = 1000

// Batch input types.
const (
	InputEpoch = "epoch"
	InputDate  = "date"
)

// BatchRequest is a list of timestamps or dates to convert.
// Items are numbers or strings as decoded from JSON.
type BatchRequest struct {
	Items        []any  `json:"items"`
	InputType    string `json:"input_type"`
	OutputFormat string `json:"output_format"`
}

// BatchItem is the result for one input. Exactly one of Output and Error is set.
type BatchItem struct {
	Input   any    `json:"input"`
	Output  any    `json:"output,omitempty"`
	ISOWeek int    `json:"iso_week,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResult holds per-item results in input order.
type BatchResult struct {
	Results        []BatchItem `json:"results"`
	TotalProcessed int         `json:"total_processed"`
}

// Validate checks the request shape. Item level problems are reported
// inline by Batch instead.
func (r *BatchRequest) Validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: items array is required", ErrInvalidInput)
	}
	if len(r.Items) > MaxBatchItems {
		return fmt.Errorf("%w: maximum %d items per batch", ErrInvalidInput, MaxBatchItems)
	}
	if r.InputType != InputEpoch && r.InputType != InputDate {
		return fmt.Errorf("%w: input_type must be %q or %q", ErrInvalidInput, InputEpoch, InputDate)
	}
	return nil
}

// Batch converts every item. Epoch items render in UTC using OutputFormat
// (default iso); date items without a zone are read as UTC.
func Batch(req BatchRequest) (*BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	format := req.OutputFormat
	if format == "" {
		format = FormatISO
	}

	results := make([]BatchItem, 0, len(req.Items))
	for _, item := range req.Items {
		var res BatchItem
		var err error
		if req.InputType == InputEpoch {
			res, err = convertEpochItem(item, format)
		} else {
			res, err = convertDateItem(item)
		}
		if err != nil {
			res = BatchItem{Error: err.Error()}
		}
		res.Input = item
		results = append(results, res)
	}

	return &BatchResult{Results: results, TotalProcessed: len(results)}, nil
}

func convertEpochItem(item any, format string) (BatchItem, error) {
	ts, err := toTimestamp(item)
	if err != nil {
		return BatchItem{}, err
	}
	t, err := fromUnix(ts)
	if err != nil {
		return BatchItem{}, err
	}
	_, week := t.ISOWeek()
	return BatchItem{Output: render(t, format), ISOWeek: week}, nil
}

func convertDateItem(item any) (BatchItem, error) {
	var s string
	switch v := item.(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
	case nil:
		return BatchItem{}, fmt.Errorf("%w: null item", ErrInvalidDate)
	default:
		s = fmt.Sprint(v)
	}

	t, err := ParseDate(s, time.UTC)
	if err != nil {
		return BatchItem{}, err
	}
	_, week := t.ISOWeek()
	return BatchItem{Output: t.Unix(), ISOWeek: week}, nil
}

func toTimestamp(item any) (int64, error) {
	switch v := item.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidTimestamp, v)
		}
		return floatTimestamp(f)
	case float64:
		return floatTimestamp(v)
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidTimestamp, v)
	}
}

// floatTimestamp truncates toward zero like an integer cast.
func floatTimestamp(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < minTimestamp || f > maxTimestamp {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTimestamp, f)
	}
	return int64(f), nil
}
