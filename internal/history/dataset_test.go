package history_test

import (
	"encoding/json"
	"testing"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataset(t *testing.T) {
	raw := `{
		"today": [{"hour": 0, "power": 80, "current": 350, "voltage": 229.5}, {"hour": 13, "power": 120, "current": 520, "voltage": 231}],
		"week":  [{"date": "2025-02-23", "power": 90, "current": 400, "voltage": 230}, {"date": "2025-02-24T00:00:00.000Z", "power": 95, "current": 410, "voltage": 230.4}],
		"month": []
	}`

	var ds history.Dataset
	require.NoError(t, json.Unmarshal([]byte(raw), &ds))
	require.NoError(t, ds.Validate())

	require.Len(t, ds.Today, 2)
	assert.Equal(t, history.KeyHour, ds.Today[0].Kind)
	assert.Equal(t, 0, ds.Today[0].Hour)
	assert.Equal(t, 13, ds.Today[1].Hour)
	assert.Equal(t, 231.0, ds.Today[1].Voltage)

	require.Len(t, ds.Week, 2)
	assert.Equal(t, history.KeyDate, ds.Week[1].Kind)
	assert.Equal(t, time.Date(2025, 2, 24, 0, 0, 0, 0, time.UTC), ds.Week[1].Date)
	assert.Empty(t, ds.Month)
}

func TestBucketRoundTripKeepsKey(t *testing.T) {
	hour := history.Bucket{Kind: history.KeyHour, Hour: 0, Power: 1, Current: 2, Voltage: 230}
	out, err := json.Marshal(hour)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hour":0,"power":1,"current":2,"voltage":230}`, string(out))

	day := history.Bucket{Kind: history.KeyDate, Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Power: 1, Current: 2, Voltage: 230}
	out, err = json.Marshal(day)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025-03-01","power":1,"current":2,"voltage":230}`, string(out))
}

func TestBucketDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no key", `{"power":1,"current":1,"voltage":230}`},
		{"both keys", `{"hour":1,"date":"2025-03-01","power":1,"current":1,"voltage":230}`},
		{"bad date", `{"date":"March 1st","power":1,"current":1,"voltage":230}`},
		{"missing voltage", `{"hour":1,"power":1,"current":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b history.Bucket
			assert.Error(t, json.Unmarshal([]byte(tt.raw), &b))
		})
	}
}

func TestValidate(t *testing.T) {
	hour := func(h int) history.Bucket { return history.Bucket{Kind: history.KeyHour, Hour: h} }
	date := func(d int) history.Bucket {
		return history.Bucket{Kind: history.KeyDate, Date: time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)}
	}

	tests := []struct {
		name string
		ds   history.Dataset
		code errors.ErrorCode
	}{
		{"hour out of range", history.Dataset{Today: []history.Bucket{hour(24)}}, history.ErrInvalidKey},
		{"hours unordered", history.Dataset{Today: []history.Bucket{hour(5), hour(3)}}, history.ErrUnordered},
		{"duplicate hour", history.Dataset{Today: []history.Bucket{hour(5), hour(5)}}, history.ErrUnordered},
		{"date in today", history.Dataset{Today: []history.Bucket{date(1)}}, history.ErrInvalidKey},
		{"hour in week", history.Dataset{Week: []history.Bucket{hour(1)}}, history.ErrInvalidKey},
		{"month unordered", history.Dataset{Month: []history.Bucket{date(2), date(1)}}, history.ErrUnordered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ds.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}

	ok := history.Dataset{
		Today: []history.Bucket{hour(0), hour(1), hour(23)},
		Week:  []history.Bucket{date(1), date(2)},
	}
	assert.NoError(t, ok.Validate())
}
