// Package format converts between byte counts and human size strings.
package format

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidSizeString reports a malformed byte-size string.
var ErrInvalidSizeString = errors.New("invalid size string")

// Byte size multipliers. Decimal and binary prefixes are distinct: "KB" is
// 10^3 while "KiB" is 2^10, and the distinction is case-sensitive.
const (
	Byte     int64 = 1
	KiloByte       = Byte * 1000
	MegaByte       = KiloByte * 1000
	GigaByte       = MegaByte * 1000
	TeraByte       = GigaByte * 1000

	KibiByte = Byte << 10
	MebiByte = KibiByte << 10
	GibiByte = MebiByte << 10
	TebiByte = GibiByte << 10
)

// suffix order matters: binary units must be tried before their decimal
// prefixes ("GiB" before "B"-terminated lookups).
var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"KiB", KibiByte},
	{"MiB", MebiByte},
	{"GiB", GibiByte},
	{"TiB", TebiByte},
	{"KB", KiloByte},
	{"MB", MegaByte},
	{"GB", GigaByte},
	{"TB", TeraByte},
}

// ParseSize converts a size expression like "2GiB" or "100MB" to a byte
// count. A bare number is taken as bytes. Malformed numbers, trailing
// garbage, unknown units, and negative values are rejected.
func ParseSize(size string) (int64, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSizeString)
	}

	for _, u := range sizeUnits {
		if !strings.HasSuffix(size, u.suffix) {
			continue
		}
		num := size[:len(size)-len(u.suffix)]
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number %q in %q", ErrInvalidSizeString, num, size)
		}
		// ParseFloat accepts "Inf" and "NaN", which would overflow the
		// multiply into a negative count.
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, fmt.Errorf("%w: non-finite size %q", ErrInvalidSizeString, size)
		}
		if f < 0 {
			return 0, fmt.Errorf("%w: negative size %q", ErrInvalidSizeString, size)
		}
		return int64(math.Round(f * float64(u.mult))), nil
	}

	n, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidSizeString, size)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size %q", ErrInvalidSizeString, size)
	}
	return n, nil
}

// HumanBytes renders a byte count with a decimal unit, for log messages.
func HumanBytes(b int64) string {
	switch {
	case b >= TeraByte:
		return fmt.Sprintf("%.1f TB", float64(b)/float64(TeraByte))
	case b >= GigaByte:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GigaByte))
	case b >= MegaByte:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MegaByte))
	case b >= KiloByte:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KiloByte))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
