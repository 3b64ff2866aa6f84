package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RawMessage is an unprocessed score request read from the source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ScoredPoint is a prediction ready for the sink topic.
type ScoredPoint struct {
	Prediction
	Model    string    `json:"model"`
	ScoredAt time.Time `json:"scored_at"`
}

// ParseQuery decodes a score request. A request without an id takes the
// message key.
func ParseQuery(raw RawMessage) (Query, error) {
	var req struct {
		ID   string   `json:"id"`
		Lat  *float64 `json:"lat"`
		Lon  *float64 `json:"lon"`
		Date string   `json:"date"`
	}
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return Query{}, InputErrorf("decode score request: %v", err)
	}
	if req.Lat == nil || req.Lon == nil {
		return Query{}, InputErrorf("lat and lon are required")
	}
	if req.Date == "" {
		return Query{}, InputErrorf("date is required")
	}
	id := req.ID
	if id == "" {
		id = string(raw.Key)
	}
	return Query{ID: id, Lat: *req.Lat, Lon: *req.Lon, Date: req.Date}, nil
}
