package format

import (
	"errors"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0MB", 0},
		{"100MB", 100 * 1000 * 1000},
		{"2GiB", 2 * 1024 * 1024 * 1024},
		{"512KiB", 512 * 1024},
		{"1.5GB", 1500 * 1000 * 1000},
		{"100KB", 100 * 1000},
		{"500", 500},
		{"3MiB", 3 * 1024 * 1024},
		{"2TB", 2 * 1000 * 1000 * 1000 * 1000},
		{"1TiB", 1 << 40},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if err != nil {
			t.Errorf("ParseSize(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseSizeRejects(t *testing.T) {
	bad := []string{"5MBB", "5k0MB", "-1GB", "-5", "", "GB", "10XB", "1O0MB", "InfGB", "+InfMB", "-InfGB", "NaNKiB"}
	for _, in := range bad {
		if _, err := ParseSize(in); err == nil {
			t.Errorf("ParseSize(%q) should fail", in)
		} else if !errors.Is(err, ErrInvalidSizeString) {
			t.Errorf("ParseSize(%q) error = %v, want ErrInvalidSizeString", in, err)
		}
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{42, "42 B"},
		{1500, "1.5 KB"},
		{2 * 1000 * 1000 * 1000, "2.0 GB"},
	}
	for _, tt := range tests {
		if got := HumanBytes(tt.in); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
