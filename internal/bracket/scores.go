package bracket

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatScores renders a score pair in the provider's dash separated form,
// e.g. "3-1" or "-1-0" for a forfeit.
func FormatScores(s1, s2 int) string {
	return fmt.Sprintf("%d-%d", s1, s2)
}

// ParseScores reads a dash separated score pair. Negative numbers are valid
// on both sides ("-1-0", "0--1"), so the separator is the first dash that
// follows a digit. Multi set strings keep only the first pair.
func ParseScores(csv string) (int, int, error) {
	if i := strings.IndexByte(csv, ','); i >= 0 {
		csv = csv[:i]
	}
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return 0, 0, fmt.Errorf("empty score string")
	}

	sep := -1
	for i := 1; i < len(csv); i++ {
		if csv[i] == '-' && csv[i-1] >= '0' && csv[i-1] <= '9' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return 0, 0, fmt.Errorf("malformed score string %q", csv)
	}

	s1, err := strconv.Atoi(csv[:sep])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed score string %q: %w", csv, err)
	}
	s2, err := strconv.Atoi(csv[sep+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed score string %q: %w", csv, err)
	}
	return s1, s2, nil
}
