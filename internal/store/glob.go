package store

import (
	"regexp"
	"strings"

	apperrors "cachetier/internal/common/errors"
)

// CompilePattern converts an anchored glob into a regular expression.
// '*' matches any run of characters (including none); every other
// character matches literally; the pattern must cover the whole key.
// Callers treat the empty pattern as "everything" before compiling.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = regexp.QuoteMeta(part)
	}

	re, err := regexp.Compile("^" + strings.Join(quoted, ".*") + "$")
	if err != nil {
		return nil, apperrors.ConfigError("invalid key pattern").WithContext("pattern", pattern)
	}
	return re, nil
}
