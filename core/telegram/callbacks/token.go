// Package callbacks encodes inline button data as compact "tag:arg:arg" tokens.
package callbacks

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// MaxTokenLen is Telegram's callback_data limit in bytes.
const MaxTokenLen = 64

var (
	ErrEmpty    = errors.New("callbacks: empty token")
	ErrTooLong  = errors.New("callbacks: token exceeds 64 bytes")
	ErrBadTag   = errors.New("callbacks: malformed tag")
	ErrBadArity = errors.New("callbacks: unexpected argument count")

	tagRe = regexp.MustCompile(`^[a-z_]+$`)
)

// Token is a parsed callback token.
type Token struct {
	Tag  string
	Args []string
}

// Parse splits data into tag and arguments. Telebot's "\f" unique prefix is tolerated.
func Parse(data string) (Token, error) {
	data = strings.TrimPrefix(data, "\f")
	if data == "" {
		return Token{}, ErrEmpty
	}
	if len(data) > MaxTokenLen {
		return Token{}, ErrTooLong
	}
	parts := strings.Split(data, ":")
	if !tagRe.MatchString(parts[0]) {
		return Token{}, ErrBadTag
	}
	return Token{Tag: parts[0], Args: parts[1:]}, nil
}

// FromContext parses the callback data of the current update.
func FromContext(c tele.Context) (Token, error) {
	cb := c.Callback()
	if cb == nil {
		return Token{}, ErrEmpty
	}
	return Parse(cb.Data)
}

// Build joins tag and args into a token and checks the length limit.
func Build(tag string, args ...any) (string, error) {
	if !tagRe.MatchString(tag) {
		return "", ErrBadTag
	}
	var b strings.Builder
	b.WriteString(tag)
	for _, a := range args {
		b.WriteByte(':')
		fmt.Fprint(&b, a)
	}
	if b.Len() > MaxTokenLen {
		return "", ErrTooLong
	}
	return b.String(), nil
}

// MustBuild is Build for tokens known to fit, such as numeric ids.
func MustBuild(tag string, args ...any) string {
	s, err := Build(tag, args...)
	if err != nil {
		panic(err)
	}
	return s
}

// String renders the token back to its wire form.
func (t Token) String() string {
	if len(t.Args) == 0 {
		return t.Tag
	}
	return t.Tag + ":" + strings.Join(t.Args, ":")
}

// Int64 parses argument i as a positive id.
func (t Token) Int64(i int) (int64, error) {
	if i < 0 || i >= len(t.Args) {
		return 0, ErrBadArity
	}
	v, err := strconv.ParseInt(t.Args[i], 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("callbacks: bad id %q", t.Args[i])
	}
	return v, nil
}
