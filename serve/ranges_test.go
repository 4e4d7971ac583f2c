package serve

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header      string
		size        int64
		want        byteRange
		wantOK      bool
		unsatisfied bool
	}{
		{header: "bytes=0-4", size: 10, want: byteRange{0, 5}, wantOK: true},
		{header: "bytes=3-", size: 10, want: byteRange{3, 7}, wantOK: true},
		{header: "bytes=-4", size: 10, want: byteRange{6, 4}, wantOK: true},
		{header: "bytes=-40", size: 10, want: byteRange{0, 10}, wantOK: true},
		{header: "bytes=8-100", size: 10, want: byteRange{8, 2}, wantOK: true},
		{header: "bytes=9-9", size: 10, want: byteRange{9, 1}, wantOK: true},
		{header: "bytes=10-", size: 10, unsatisfied: true},
		{header: "bytes=-0", size: 10, unsatisfied: true},
		{header: "bytes=0-", size: 0, unsatisfied: true},
		{header: "bytes=-5", size: 0, unsatisfied: true},
		{header: "bytes=0-1,4-5", size: 10},
		{header: "bytes=5-2", size: 10},
		{header: "bytes=x-", size: 10},
		{header: "items=0-1", size: 10},
		{header: "bytes=5", size: 10},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			t.Parallel()

			got, ok, err := parseRange(tt.header, tt.size)
			if tt.unsatisfied {
				if !errors.Is(err, errUnsatisfiable) {
					t.Fatalf("parseRange(%q, %d) error = %v, want errUnsatisfiable", tt.header, tt.size, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRange(%q, %d) error = %v", tt.header, tt.size, err)
			}
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("parseRange(%q, %d) = (%+v, %v), want (%+v, %v)",
					tt.header, tt.size, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
