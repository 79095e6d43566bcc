package callbacks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tok, err := Parse("confirm:42:7")
	require.NoError(t, err)
	assert.Equal(t, "confirm", tok.Tag)
	assert.Equal(t, []string{"42", "7"}, tok.Args)
	assert.Equal(t, "confirm:42:7", tok.String())

	tok, err = Parse("\fcancel")
	require.NoError(t, err)
	assert.Equal(t, "cancel", tok.Tag)
	assert.Empty(t, tok.Args)

	cases := []struct {
		data string
		want error
	}{
		{"", ErrEmpty},
		{"Buy:1", ErrBadTag},
		{"buy1", ErrBadTag},
		{":1", ErrBadTag},
		{"buy:" + strings.Repeat("9", 61), ErrTooLong},
	}
	for _, tc := range cases {
		_, err := Parse(tc.data)
		assert.ErrorIs(t, err, tc.want, tc.data)
	}
}

func TestInt64(t *testing.T) {
	tok, _ := Parse("buy:12:x:-3")
	v, err := tok.Int64(0)
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	_, err = tok.Int64(1)
	assert.Error(t, err)
	_, err = tok.Int64(2)
	assert.Error(t, err, "ids are positive")
	_, err = tok.Int64(3)
	assert.ErrorIs(t, err, ErrBadArity)
}

func TestBuild(t *testing.T) {
	s, err := Build("confirm", int64(9223372036854775807), int64(9223372036854775807))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(s), MaxTokenLen)

	_, err = Build("x", strings.Repeat("a", 64))
	assert.ErrorIs(t, err, ErrTooLong)
	_, err = Build("Bad")
	assert.ErrorIs(t, err, ErrBadTag)
	assert.Equal(t, "admin:orders", MustBuild("admin", "orders"))
}
