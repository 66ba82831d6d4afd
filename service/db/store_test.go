package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchases(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("create and fetch by tx id", func(t *testing.T) {
		params := CreatePurchaseParams{
			ID:           uuid.NewString(),
			Item:         "Beach Towel",
			Amount:       "50.00",
			PayerAddress: "0xf077b491b355e64048ce21e3a6fc4751eeea77fa",
			TxID:         "0xdeadbeef01",
			PurchasedAt:  now,
			BuyerName:    "Alice",
			BuyerEmail:   "alice@example.com",
			BuyerAddress: "1 Ocean Dr",
		}

		p, err := store.CreatePurchase(ctx, params)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, params.Item, p.Item)
		assert.Equal(t, "50.00", p.Amount)
		assert.WithinDuration(t, now, p.PurchasedAt, time.Microsecond)

		got, err := store.GetPurchaseByTxID(ctx, "0xdeadbeef01")
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, "Alice", got.BuyerName)
	})

	t.Run("duplicate tx id rejected", func(t *testing.T) {
		params := CreatePurchaseParams{
			ID:           uuid.NewString(),
			Item:         "Beach Towel",
			Amount:       "50.00",
			PayerAddress: "0xf077b491b355e64048ce21e3a6fc4751eeea77fa",
			TxID:         "0xdeadbeef01",
			PurchasedAt:  now,
		}
		_, err := store.CreatePurchase(ctx, params)
		assert.Error(t, err)
	})

	t.Run("list newest first", func(t *testing.T) {
		_, err := store.CreatePurchase(ctx, CreatePurchaseParams{
			ID:           uuid.NewString(),
			Item:         "Sunscreen",
			Amount:       "12.50",
			PayerAddress: "0xf077b491b355e64048ce21e3a6fc4751eeea77fa",
			TxID:         "0xdeadbeef02",
			PurchasedAt:  now.Add(time.Minute),
		})
		require.NoError(t, err)

		purchases, err := store.ListPurchases(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, purchases, 2)
		assert.Equal(t, "Sunscreen", purchases[0].Item)
	})

	t.Run("missing tx id", func(t *testing.T) {
		_, err := store.GetPurchaseByTxID(ctx, "0xmissing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestProducts(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	created, err := store.CreateProduct(ctx, CreateProductParams{
		ID:          uuid.NewString(),
		Name:        "Beach Towel",
		Description: "Oversized towel",
		PriceUSD:    25,
		PriceToken:  "50.00",
	})
	require.NoError(t, err)
	assert.False(t, created.SoldOut)

	t.Run("update", func(t *testing.T) {
		updated, err := store.UpdateProduct(ctx, UpdateProductParams{
			ID:          created.ID,
			Name:        created.Name,
			Description: created.Description,
			PriceUSD:    30,
			PriceToken:  "60.00",
			SoldOut:     true,
		})
		require.NoError(t, err)
		assert.Equal(t, "60.00", updated.PriceToken)
		assert.True(t, updated.SoldOut)
		assert.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))
	})

	t.Run("get and list", func(t *testing.T) {
		got, err := store.GetProduct(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Beach Towel", got.Name)

		all, err := store.ListProducts(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteProduct(ctx, created.ID))
		err := store.DeleteProduct(ctx, created.ID)
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = store.GetProduct(ctx, created.ID)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestRegistrations(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	_, err := store.CreateRegistration(ctx, CreateRegistrationParams{
		ID:            uuid.NewString(),
		EventName:     "beach-cleanup",
		AttendeeName:  "Bob",
		AttendeeEmail: "bob@example.com",
	})
	require.NoError(t, err)

	regs, err := store.ListRegistrations(ctx, "beach-cleanup")
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "Bob", regs[0].AttendeeName)

	none, err := store.ListRegistrations(ctx, "other-event")
	require.NoError(t, err)
	assert.Empty(t, none)
}
