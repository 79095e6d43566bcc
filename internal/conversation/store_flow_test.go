package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/keyshop/core/telegram/state"
	"github.com/m3rciful/keyshop/internal/conversation"
	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/orders"
	"github.com/m3rciful/keyshop/internal/storage/storagetest"
)

func TestEditFlowUpdatesOnlyTitleAndPrice(t *testing.T) {
	repo := storagetest.Open(t)
	ctl := orders.New(repo, nil)
	e := conversation.New(repo, ctl, state.Options{TTL: time.Hour})
	ctx := context.Background()
	const admin, buyer = int64(100), int64(7)

	it, err := repo.InsertItem(ctx, domain.NewItem{
		Title: "Old Name", Secret: "XYZ-123", Price: decimal.RequireFromString("9.99"),
	})
	require.NoError(t, err)

	step, err := e.BeginFlow(ctx, admin, conversation.FlowEditItem, conversation.Seed{ItemID: it.ID})
	require.NoError(t, err)
	assert.Equal(t, conversation.StepEditTitle, step)

	out, err := e.Advance(ctx, admin, conversation.Input{Text: "New Name"})
	require.NoError(t, err)
	assert.Equal(t, conversation.StepEditPrice, out.Step)

	_, err = e.Advance(ctx, admin, conversation.Input{Text: "abc"})
	assert.True(t, domain.IsValidation(err))
	step, ok := e.CurrentStep(admin)
	require.True(t, ok)
	assert.Equal(t, conversation.StepEditPrice, step)
	unchanged, err := repo.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "Old Name", unchanged.Title, "nothing is written before the flow completes")

	out, err = e.Advance(ctx, admin, conversation.Input{Text: "14.50"})
	require.NoError(t, err)
	require.True(t, out.Done)
	assert.Equal(t, conversation.FlowEditItem, out.Flow)

	got, err := repo.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.Title)
	assert.True(t, decimal.RequireFromString("14.50").Equal(got.Price))
	assert.Equal(t, domain.ItemAvailable, got.Status)

	require.NoError(t, repo.UpsertUser(ctx, buyer, "buyer"))
	o, err := repo.InsertOrder(ctx, buyer, it.ID)
	require.NoError(t, err)
	f, err := repo.ConfirmPayment(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "XYZ-123", f.Secret, "the secret survives an edit")
	assert.Equal(t, "New Name", f.ItemTitle)
}
