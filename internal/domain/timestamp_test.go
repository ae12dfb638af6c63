package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	msk := time.FixedZone("", 3*3600)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-06-03T09:00:00+03:00", time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)},
		{"2024-06-03T09:00:00Z", time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)},
		{"2024-06-03T09:00:00.123456+03:00", time.Date(2024, 6, 3, 6, 0, 0, 123456000, time.UTC)},
		{"2024-06-03T09:00+03:00", time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)},
		// zone-less values take the supplied location
		{"2024-06-03T09:00:00", time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)},
		{"2024-06-03T09:00", time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)},
		{"2024-06-03 09:00:00", time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)},
		{"2024-06-03", time.Date(2024, 6, 2, 21, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimestamp(tc.in, msk)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseTimestampInvalid(t *testing.T) {
	for _, in := range []string{"", "tomorrow", "2024-13-01T00:00:00"} {
		_, err := ParseTimestamp(in, time.UTC)
		assert.Error(t, err, in)
	}
}

func TestFormatTimestamp(t *testing.T) {
	msk := time.FixedZone("", 3*3600)
	ts := time.Date(2024, 6, 3, 9, 0, 12, 345678901, msk)
	assert.Equal(t, "2024-06-03T09:00:12.345678+03:00", FormatTimestamp(ts))
	assert.Equal(t, "2024-06-03T09:00:00+03:00", FormatTimestamp(time.Date(2024, 6, 3, 9, 0, 0, 0, msk)))

	back, err := ParseTimestamp(FormatTimestamp(ts), nil)
	require.NoError(t, err)
	assert.True(t, ts.Truncate(time.Microsecond).Equal(back))
}

func TestTaskDisplayName(t *testing.T) {
	assert.Equal(t, "task", Task{}.DisplayName())
	assert.Equal(t, "digest", Task{Name: "digest"}.DisplayName())
}
