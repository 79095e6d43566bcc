package router

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tg "github.com/m3rciful/keyshop/core/telegram"

	tele "gopkg.in/telebot.v4"
)

type codedErr struct{}

func (codedErr) Error() string { return "conflict" }
func (codedErr) Code() string  { return "conflict" }

func offlineContext(t *testing.T, upd tele.Update) tele.Context {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	return b.NewContext(upd)
}

func message(text string) tele.Update {
	return tele.Update{ID: 1, Message: &tele.Message{
		Sender: &tele.User{ID: 7},
		Chat:   &tele.Chat{ID: 7},
		Text:   text,
	}}
}

func TestTextRoutesPreferCommandAliases(t *testing.T) {
	reg := tg.NewRegistry()
	var got []string
	reg.RegisterCommand("/cancel", tg.Command{
		Description: "Cancel",
		Aliases:     []string{"stop"},
		Handler:     func(tele.Context) error { got = append(got, "cancel"); return nil },
	})
	reg.SetTextFallback(func(c tele.Context) error { got = append(got, "text:"+c.Text()); return nil })

	routes := TextRoutes(reg, TextOptions{})
	require.Len(t, routes, 3)
	text := routes[0].Handler

	require.NoError(t, text(offlineContext(t, message("/stop"))))
	require.NoError(t, text(offlineContext(t, message("stop"))))
	assert.Equal(t, []string{"cancel", "text:stop"}, got)
}

func TestMediaRouteUsesRegistryHandler(t *testing.T) {
	reg := tg.NewRegistry()
	var photos int
	reg.SetMediaHandler(func(tele.Context) error { photos++; return nil })

	routes := TextRoutes(reg, TextOptions{})
	upd := message("")
	upd.Message.Photo = &tele.Photo{File: tele.File{FileID: "AgAD"}}
	require.NoError(t, routes[1].Handler(offlineContext(t, upd)))
	assert.Equal(t, 1, photos)
}

func TestPaymentRoutesSkipNilHandlers(t *testing.T) {
	assert.Empty(t, PaymentRoutes(PaymentOptions{}))
	routes := PaymentRoutes(PaymentOptions{Payment: func(tele.Context) error { return nil }})
	require.Len(t, routes, 1)
	assert.Equal(t, tele.OnPayment, routes[0].Endpoint)
}

func TestDeriveErrorCode(t *testing.T) {
	assert.Equal(t, "", deriveErrorCode(nil))
	assert.Equal(t, "CONFLICT", deriveErrorCode(fmt.Errorf("begin: %w", codedErr{})))
	assert.Equal(t, "UNKNOWN_ERROR", deriveErrorCode(errors.New("x")))
}
