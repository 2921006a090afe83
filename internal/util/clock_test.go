package util

import (
	"testing"
	"time"
)

func TestMFSAt(t *testing.T) {
	cases := []struct {
		y, m int
		want byte
	}{
		{2023, 2, 0},
		{2023, 3, 1},
		{2024, 2, 12},
		{2030, 7, 89},
		{2022, 1, 0}, // before epoch, clamps at 0
	}
	for _, c := range cases {
		got := mfsAt(time.Date(c.y, time.Month(c.m), 1, 0, 0, 0, 0, time.UTC))
		if got != c.want {
			t.Fatalf("mfsAt(%d-%d) = %d, want %d", c.y, c.m, got, c.want)
		}
	}
}
