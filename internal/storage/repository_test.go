package storage_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/storage"
	"github.com/m3rciful/keyshop/internal/storage/storagetest"
)

func seedItem(t *testing.T, repo *storage.Repository, title, secret, price string) domain.Item {
	t.Helper()
	it, err := repo.InsertItem(context.Background(), domain.NewItem{
		Title: title, Secret: secret, Price: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return it
}

func seedOrder(t *testing.T, repo *storage.Repository, userID, itemID int64) domain.Order {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.UpsertUser(ctx, userID, "buyer"))
	o, err := repo.InsertOrder(ctx, userID, itemID)
	require.NoError(t, err)
	return o
}

func TestUpsertUserRefreshesName(t *testing.T) {
	repo := storagetest.Open(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertUser(ctx, 42, ""))
	u, err := storagetest.User(repo, 42)
	require.NoError(t, err)
	assert.Equal(t, "guest", u.Username)

	require.NoError(t, repo.UpsertUser(ctx, 42, "alice"))
	u, err = storagetest.User(repo, 42)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = storagetest.User(repo, 7)
	assert.True(t, domain.IsNotFound(err))
}

func TestBlankUpsertKeepsKnownName(t *testing.T) {
	repo := storagetest.Open(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertUser(ctx, 5, "bob"))
	require.NoError(t, repo.UpsertUser(ctx, 5, "  "))
	u, err := storagetest.User(repo, 5)
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
}

func TestItemCRUD(t *testing.T) {
	repo := storagetest.Open(t)
	ctx := context.Background()

	it := seedItem(t, repo, "Game key", "AAAA-BBBB", "10.50")
	assert.NotZero(t, it.ID)
	assert.Equal(t, domain.ItemAvailable, it.Status)
	assert.Empty(t, it.Secret, "catalog reads never load the secret")
	assert.True(t, decimal.RequireFromString("10.5").Equal(it.Price))

	title := "Game key (EU)"
	price := decimal.RequireFromString("12")
	up, err := repo.UpdateItem(ctx, it.ID, domain.ItemUpdate{Title: &title, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, title, up.Title)
	assert.True(t, price.Equal(up.Price))

	_, err = repo.UpdateItem(ctx, it.ID, domain.ItemUpdate{})
	assert.True(t, domain.IsValidation(err))

	avail, err := repo.GetAvailableItems(ctx)
	require.NoError(t, err)
	require.Len(t, avail, 1)

	require.NoError(t, repo.DeleteItem(ctx, it.ID))
	_, err = repo.GetItem(ctx, it.ID)
	assert.True(t, domain.IsNotFound(err))
	assert.True(t, domain.IsNotFound(repo.DeleteItem(ctx, it.ID)))
	_, err = repo.UpdateItem(ctx, it.ID, domain.ItemUpdate{Title: &title})
	assert.True(t, domain.IsNotFound(err))
}

func TestSoldItemIsFrozen(t *testing.T) {
	repo := storagetest.Open(t)
	ctx := context.Background()
	it := seedItem(t, repo, "Key", "S3CRET", "5")
	o := seedOrder(t, repo, 1, it.ID)

	_, err := repo.ConfirmPayment(ctx, o.ID)
	require.NoError(t, err)

	title := "renamed"
	_, err = repo.UpdateItem(ctx, it.ID, domain.ItemUpdate{Title: &title})
	assert.True(t, domain.IsInvalidState(err))
	assert.True(t, domain.IsInvalidState(repo.DeleteItem(ctx, it.ID)))

	_, err = repo.InsertOrder(ctx, 1, it.ID)
	assert.True(t, domain.IsInvalidState(err))

	all, err := repo.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.ItemSold, all[0].Status)

	avail, err := repo.GetAvailableItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, avail)
}

func TestConfirmPaymentReleasesSecretOnce(t *testing.T) {
	repo := storagetest.Open(t)
	ctx := context.Background()
	it := seedItem(t, repo, "Key", "S3CRET", "9.99")
	o := seedOrder(t, repo, 5, it.ID)

	f, err := repo.ConfirmPayment(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "S3CRET", f.Secret)
	assert.Equal(t, "Key", f.ItemTitle)
	assert.Equal(t, int64(5), f.Order.UserID)
	assert.Equal(t, domain.PaymentSuccess, f.Order.Status)

	_, err = repo.ConfirmPayment(ctx, o.ID)
	assert.True(t, domain.IsAlreadyFulfilled(err))

	_, err = repo.ConfirmPayment(ctx, 9999)
	assert.True(t, domain.IsInvalidState(err))
}

func TestConcurrentConfirmHasOneWinner(t *testing.T) {
	repo := storagetest.Open(t)
	it := seedItem(t, repo, "Key", "ONLY-ONCE", "1")
	o := seedOrder(t, repo, 5, it.ID)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, dups int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ConfirmPayment(context.Background(), o.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case domain.IsAlreadyFulfilled(err):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, dups)
}

func TestTwoOrdersOneItem(t *testing.T) {
	repo := storagetest.Open(t)
	ctx := context.Background()
	it := seedItem(t, repo, "Key", "X", "1")
	a := seedOrder(t, repo, 1, it.ID)
	b := seedOrder(t, repo, 2, it.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = repo.ConfirmPayment(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, domain.IsAlreadyFulfilled(err), "got %v", err)
		}
	}
	assert.Equal(t, 1, wins)

	out, err := repo.GetOutstandingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1, "the losing order stays outstanding")
}

func TestConfirmAfterItemDeleted(t *testing.T) {
	repo := storagetest.Open(t)
	ctx := context.Background()
	it := seedItem(t, repo, "Key", "X", "1")
	o := seedOrder(t, repo, 1, it.ID)
	require.NoError(t, repo.DeleteItem(ctx, it.ID))

	_, err := repo.ConfirmPayment(ctx, o.ID)
	assert.True(t, domain.IsInvalidState(err))

	got, err := repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, got.Status, "failed confirm rolls back the order row")
}

func TestSetOrderStatusGuardsSuccess(t *testing.T) {
	repo := storagetest.Open(t)
	ctx := context.Background()
	it := seedItem(t, repo, "Key", "X", "1")
	o := seedOrder(t, repo, 1, it.ID)

	got, err := repo.SetOrderStatus(ctx, o.ID, domain.PaymentReview, "file-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentReview, got.Status)
	assert.Equal(t, "file-1", got.EvidenceRef)

	got, err = repo.SetOrderStatus(ctx, o.ID, domain.PaymentReview, "")
	require.NoError(t, err)
	assert.Equal(t, "file-1", got.EvidenceRef)

	_, err = repo.SetOrderStatus(ctx, o.ID, domain.PaymentSuccess, "")
	assert.True(t, domain.IsInvalidState(err))

	_, err = repo.ConfirmPayment(ctx, o.ID)
	require.NoError(t, err)
	_, err = repo.SetOrderStatus(ctx, o.ID, domain.PaymentReview, "file-2")
	assert.True(t, domain.IsInvalidState(err))

	_, err = repo.SetOrderStatus(ctx, 404, domain.PaymentReview, "")
	assert.True(t, domain.IsNotFound(err))
}

func TestOutstandingOrdersProjection(t *testing.T) {
	repo := storagetest.Open(t)
	ctx := context.Background()
	a := seedItem(t, repo, "Alpha", "A", "3.00")
	b := seedItem(t, repo, "Beta", "B", "4.25")
	o1 := seedOrder(t, repo, 1, a.ID)
	o2 := seedOrder(t, repo, 2, b.ID)
	o3 := seedOrder(t, repo, 3, b.ID)
	_, err := repo.ConfirmPayment(ctx, o3.ID)
	require.NoError(t, err)

	out, err := repo.GetOutstandingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, o1.ID, out[0].ID)
	assert.Equal(t, "Alpha", out[0].ItemTitle)
	assert.Equal(t, o2.ID, out[1].ID)
	assert.True(t, decimal.RequireFromString("4.25").Equal(out[1].ItemPrice))
}
