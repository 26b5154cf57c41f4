package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		expectSlug  string
		expectError bool
	}{
		{
			name:       "already normalized",
			input:      "salon-rosa",
			expectSlug: "salon-rosa",
		},
		{
			name:       "trims whitespace and lowercases",
			input:      "  Salon-Rosa ",
			expectSlug: "salon-rosa",
		},
		{
			name:        "empty string",
			input:       "   ",
			expectError: true,
		},
		{
			name:        "invalid characters",
			input:       "salon_rosa",
			expectError: true,
		},
		{
			name:        "leading hyphen",
			input:       "-bad-slug",
			expectError: true,
		},
		{
			name:        "trailing hyphen",
			input:       "bad-slug-",
			expectError: true,
		},
		{
			name:        "too short",
			input:       "ab",
			expectError: true,
		},
		{
			name:        "too long",
			input:       "a123456789a123456789a123456789a123456789a123456789a123456789abcd",
			expectError: true,
		},
		{
			name:        "reserved",
			input:       "www",
			expectError: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			slug, err := NormalizeSlug(tt.input)
			if tt.expectError {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.expectSlug, slug)
		})
	}
}

func TestNormalizeSlugReservedSentinel(t *testing.T) {
	t.Parallel()

	_, err := NormalizeSlug("Admin")
	require.ErrorIs(t, err, ErrReservedSlug)
}

func TestSlugFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		fallback string
		want     string
	}{
		{name: "email local part", text: "maria.lopez", fallback: "x", want: "maria-lopez"},
		{name: "accents are folded", text: "Peluquería Ñandú", fallback: "x", want: "peluqueria-nandu"},
		{name: "short text gets fallback", text: "jo", fallback: "abc123", want: "jo-abc123"},
		{name: "empty text uses fallback", text: "", fallback: "abc123", want: "abc123"},
		{name: "reserved gets suffix", text: "admin", fallback: "abc123", want: "admin-abc123"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := SlugFrom(tt.text, tt.fallback)
			require.Equal(t, tt.want, got)
			_, err := NormalizeSlug(got)
			require.NoError(t, err)
		})
	}
}
