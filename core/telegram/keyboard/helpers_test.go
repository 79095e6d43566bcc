package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineUsesRawTokens(t *testing.T) {
	rm := Inline(Chunk([]InlineBtn{{"A", "buy:1"}, {"B", "buy:2"}, {"C", "buy:3"}}, 2)...)
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 2)
	assert.Len(t, rm.InlineKeyboard[0], 2)
	assert.Equal(t, "buy:3", rm.InlineKeyboard[1][0].Data)
	assert.Equal(t, "C", rm.InlineKeyboard[1][0].Text)
}

func TestInlineEmpty(t *testing.T) {
	assert.Nil(t, Inline())
	assert.Nil(t, Inline(nil, []InlineBtn{}))
}

func TestColumnAndCancel(t *testing.T) {
	rows := Column(InlineBtn{"x", "a"}, Cancel("cancel"))
	require.Len(t, rows, 2)
	assert.Equal(t, CancelText, rows[1][0].Text)
	assert.Equal(t, "cancel", rows[1][0].Token)
}
