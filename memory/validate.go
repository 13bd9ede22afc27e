package memory

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
)

const (
	// MaxTags is the maximum number of tags on a record.
	MaxTags = 10
	// MaxTagLength is the maximum length of a tag in characters.
	MaxTagLength = 50
	// DefaultLimit is the search limit used when the caller gives none.
	DefaultLimit = 5
	// MinLimit and MaxLimit bound the search limit, inclusive.
	MinLimit = 1
	MaxLimit = 20
)

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return goerr.New("content must not be empty", goerr.T(ErrInvalidInput))
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > MaxTags {
		return goerr.New(fmt.Sprintf("tags must be at most %d, got %d", MaxTags, len(tags)),
			goerr.T(ErrInvalidInput))
	}
	for i, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			return goerr.New(fmt.Sprintf("tag %d must not be empty", i),
				goerr.T(ErrInvalidInput))
		}
		if n := utf8.RuneCountInString(tag); n > MaxTagLength {
			return goerr.New(fmt.Sprintf("tag %d must be at most %d characters, got %d", i, MaxTagLength, n),
				goerr.T(ErrInvalidInput), goerr.V("tag", tag))
		}
	}
	return nil
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return goerr.New("query must not be empty", goerr.T(ErrInvalidInput))
	}
	return nil
}

func validateLimit(limit int) error {
	if limit < MinLimit || limit > MaxLimit {
		return goerr.New(fmt.Sprintf("limit must be between %d and %d, got %d", MinLimit, MaxLimit, limit),
			goerr.T(ErrInvalidInput))
	}
	return nil
}
