package mmodel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from string
		to   string
		want bool
	}{
		{StatusDraft, StatusScheduled, true},
		{StatusScheduled, StatusActive, true},
		{StatusActive, StatusPaused, true},
		{StatusPaused, StatusActive, true},
		{StatusActive, StatusEnded, true},
		{StatusPaused, StatusEnded, true},
		{StatusDraft, StatusCancelled, true},
		{StatusActive, StatusCancelled, true},

		{StatusDraft, StatusActive, false},
		{StatusScheduled, StatusPaused, false},
		{StatusEnded, StatusActive, false},
		{StatusEnded, StatusCancelled, false},
		{StatusCancelled, StatusActive, false},
		{StatusCancelled, StatusCancelled, false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestActivityCacheEntryCarriesMillis(t *testing.T) {
	start := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	act := &Activity{
		ID:           "act1",
		Status:       StatusActive,
		StartTime:    start,
		EndTime:      end,
		TotalStock:   100,
		Price:        decimal.NewFromInt(3),
		PerUserLimit: 2,
	}

	entry := NewActivityCacheEntry(act)

	body, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.EqualValues(t, start.UnixMilli(), decoded["startMillis"])
	assert.EqualValues(t, end.UnixMilli(), decoded["endMillis"])
	assert.Equal(t, "active", decoded["status"])
}
