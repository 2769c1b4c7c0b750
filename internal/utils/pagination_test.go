package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"", 7, 7},
		{"42", 7, 42},
		{"-3", 7, -3},
		{"abc", 7, 7},
		{"4.5", 7, 7},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.in, tc.def); got != tc.want {
			t.Errorf("AtoiDefault(%q, %d) = %d, want %d", tc.in, tc.def, got, tc.want)
		}
	}
}

func TestPageBounds(t *testing.T) {
	cases := []struct {
		name       string
		page, size int
		maxSize    int
		wantOff    int
		wantLim    int
	}{
		{"first page", 1, 20, 100, 0, 20},
		{"third page", 3, 10, 100, 20, 10},
		{"zero page clamps to one", 0, 10, 100, 0, 10},
		{"negative size uses default", 2, -5, 100, 20, 20},
		{"size clamped to max", 1, 500, 100, 0, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			off, lim := PageBounds(tc.page, tc.size, tc.maxSize)
			if off != tc.wantOff || lim != tc.wantLim {
				t.Fatalf("PageBounds(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tc.page, tc.size, tc.maxSize, off, lim, tc.wantOff, tc.wantLim)
			}
		})
	}
}
