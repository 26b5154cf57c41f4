package persistence

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
)

const (
	MinSlugLength = 3
	MaxSlugLength = 63
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	// reservedSlugs cannot be used as tenant ids because they collide with platform hostnames.
	reservedSlugs = map[string]struct{}{
		"www":   {},
		"api":   {},
		"admin": {},
		"app":   {},
	}

	ErrReservedSlug = errors.New("slug is reserved")
)

// NormalizeSlug trims whitespace, lowercases the value, and ensures it matches
// the canonical URL-safe slug pattern required for tenant ids.
func NormalizeSlug(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.New("slug is required")
	}

	normalized := strings.ToLower(trimmed)
	if !slugPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid slug %q: must match ^[a-z0-9]+(?:-[a-z0-9]+)*$", input)
	}
	if len(normalized) < MinSlugLength || len(normalized) > MaxSlugLength {
		return "", fmt.Errorf("invalid slug %q: length must be between %d and %d", input, MinSlugLength, MaxSlugLength)
	}
	if _, ok := reservedSlugs[normalized]; ok {
		return "", fmt.Errorf("%q: %w", normalized, ErrReservedSlug)
	}

	return normalized, nil
}

// SlugFrom builds a tenant slug candidate out of free text (an email local part, a business name).
// Short or reserved results are extended with fallback, which should itself be a valid slug.
func SlugFrom(text, fallback string) string {
	candidate := makeSlug(text)
	if len(candidate) > MaxSlugLength {
		candidate = strings.Trim(candidate[:MaxSlugLength], "-")
	}
	if len(candidate) < MinSlugLength {
		fb := makeSlug(fallback)
		if candidate != "" {
			candidate = candidate + "-" + fb
		} else {
			candidate = fb
		}
		if len(candidate) > MaxSlugLength {
			candidate = strings.Trim(candidate[:MaxSlugLength], "-")
		}
	}
	if _, ok := reservedSlugs[candidate]; ok {
		candidate = candidate + "-" + makeSlug(fallback)
	}
	return candidate
}

// makeSlug folds text with gosimple/slug and drops the underscores it keeps.
func makeSlug(text string) string {
	out := strings.ReplaceAll(slug.Make(text), "_", "-")
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	return strings.Trim(out, "-")
}
