package jobs

import (
	"testing"
	"time"
)

func TestNextRunAfter(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{
			name: "before today's slot",
			now:  time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC),
			hour: 2,
			want: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at the slot rolls to tomorrow",
			now:  time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
			hour: 2,
			want: time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC),
		},
		{
			name: "after today's slot",
			now:  time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
			hour: 2,
			want: time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC),
		},
		{
			name: "month boundary",
			now:  time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC),
			hour: 2,
			want: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		if got := nextRunAfter(tc.now, tc.hour); !got.Equal(tc.want) {
			t.Errorf("%s: nextRunAfter(%v, %d) = %v, want %v", tc.name, tc.now, tc.hour, got, tc.want)
		}
	}
}
