package clock

import (
	"testing"
	"time"
)

func TestTodayUsesFixedZone(t *testing.T) {
	c, err := New("Asia/Riyadh")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// 22:30 UTC is already the next day in Riyadh (UTC+3).
	c.Now = func() time.Time { return time.Date(2024, 9, 23, 22, 30, 0, 0, time.UTC) }
	if got := c.Today(); got != "2024-09-24" {
		t.Fatalf("expected 2024-09-24, got %s", got)
	}
	if got := c.Timestamp(); got != "2024-09-24 01:30:00" {
		t.Fatalf("unexpected timestamp %s", got)
	}
}

func TestDaysSince(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	start, _ := ParseDate("2024-09-24")
	cases := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2024, 9, 24, 9, 0, 0, 0, c.Location), 0},
		{time.Date(2024, 9, 26, 23, 59, 0, 0, c.Location), 2},
		{time.Date(2024, 9, 20, 12, 0, 0, 0, c.Location), 0},
		{time.Date(2024, 10, 1, 0, 0, 0, 0, c.Location), 7},
	}
	for _, tc := range cases {
		c.Now = func() time.Time { return tc.now }
		if got := c.DaysSince(start); got != tc.want {
			t.Fatalf("now=%s: expected %d, got %d", tc.now, tc.want, got)
		}
	}
}

func TestNewRejectsUnknownZone(t *testing.T) {
	if _, err := New("Mars/Olympus"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}
