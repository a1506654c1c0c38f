package topic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		filter, name string
		want         bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/c/d", false},
		{"a/+", "a", false},
		{"a/#", "a", true},
		{"a/#", "a/b/c", true},
		{"#", "a/b", true},
		{"+/+", "/x", true},
		{"a/+/c", "a//c", true},
		{"#", "$aws/things/x/shadow/get", false},
		{"+/things/x", "$aws/things/x", false},
		{"$aws/things/+/shadow/#", "$aws/things/x/shadow/get/accepted", true},
		{"$aws/things/X/shadow/name/Y/update/delta", "$aws/things/X/shadow/name/Y/update/delta", true},
		{"$aws/things/X/shadow/name/Y/update/delta", "$aws/things/Z/shadow/name/Y/update/delta", false},
		{"$aws/things/X/shadow/get/+", "$aws/things/X/shadow/get/accepted", true},
		{"$aws/things/X/shadow/get/+", "$aws/things/X/shadow/get", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Match(tc.filter, tc.name), "Match(%q, %q)", tc.filter, tc.name)
	}
}

func TestValidateFilter(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"a", "a/b", "+", "#", "a/+/c", "a/#", "+/+/#", "/"} {
		require.NoError(t, ValidateFilter(ok), ok)
	}
	require.ErrorIs(t, ValidateFilter(""), ErrEmpty)
	require.ErrorIs(t, ValidateFilter("a/#/c"), ErrInvalidWildcard)
	require.ErrorIs(t, ValidateFilter("a/b+"), ErrInvalidWildcard)
	require.ErrorIs(t, ValidateFilter("a#"), ErrInvalidWildcard)
	require.ErrorIs(t, ValidateFilter(strings.Repeat("a", 70000)), ErrTooLong)
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateName("$aws/things/x/shadow/get"))
	require.ErrorIs(t, ValidateName("a/+"), ErrWildcardInName)
	require.ErrorIs(t, ValidateName("a/#"), ErrWildcardInName)
	require.ErrorIs(t, ValidateName(""), ErrEmpty)
}

func TestIsWildcard(t *testing.T) {
	t.Parallel()

	assert.True(t, IsWildcard("a/+"))
	assert.True(t, IsWildcard("#"))
	assert.False(t, IsWildcard("a/b"))
}
