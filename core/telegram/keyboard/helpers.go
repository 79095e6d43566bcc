// Package keyboard builds inline keyboards whose buttons carry raw callback tokens.
package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn is one inline button. Token is sent back verbatim as callback data.
type InlineBtn struct {
	Text  string
	Token string
}

// CancelText is the default label of the cancel button.
const CancelText = "❌ Cancel"

// Inline builds an inline keyboard from rows of buttons. Empty rows are skipped;
// nil is returned when there is nothing to show.
func Inline(rows ...[]InlineBtn) *tele.ReplyMarkup {
	var kb [][]tele.InlineButton
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for i, b := range row {
			r[i] = tele.InlineButton{Text: b.Text, Data: b.Token}
		}
		kb = append(kb, r)
	}
	if len(kb) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

// Column places every button on its own row.
func Column(buttons ...InlineBtn) [][]InlineBtn {
	return Chunk(buttons, 1)
}

// Chunk splits buttons into rows of up to n.
func Chunk(buttons []InlineBtn, n int) [][]InlineBtn {
	if n < 1 {
		n = 1
	}
	var rows [][]InlineBtn
	for i := 0; i < len(buttons); i += n {
		end := min(i+n, len(buttons))
		rows = append(rows, buttons[i:end])
	}
	return rows
}

// Cancel returns the standard cancel button for token.
func Cancel(token string) InlineBtn {
	return InlineBtn{Text: CancelText, Token: token}
}
