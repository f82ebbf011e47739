package review

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/rajivgeraev/plantswap-api/internal/models"
)

func TestEvaluate(t *testing.T) {
	listingID := uuid.New()
	seller := uuid.New()
	buyer := uuid.New()
	stranger := uuid.New()

	low, high := models.CanonicalPair(seller, buyer)
	thread := &models.Thread{
		ID:          uuid.New(),
		ContextType: models.ThreadContextListing,
		ContextID:   &listingID,
		UserLow:     low,
		UserHigh:    high,
	}
	deliveredOrder := &models.Order{
		ThreadID:  thread.ID,
		ListingID: listingID,
		BuyerID:   buyer,
		SellerID:  seller,
		Status:    models.OrderStatusDelivered,
	}

	t.Run("доставленный заказ даёт право на отзыв", func(t *testing.T) {
		res := Evaluate(thread, deliveredOrder, listingID, buyer, seller, false)
		assert.True(t, res.Eligible)
		assert.Empty(t, res.Reason)
	})

	t.Run("без треда", func(t *testing.T) {
		res := Evaluate(nil, deliveredOrder, listingID, buyer, seller, false)
		assert.False(t, res.Eligible)
		assert.NotEmpty(t, res.Reason)
	})

	t.Run("тред не по объявлению", func(t *testing.T) {
		direct := &models.Thread{ID: uuid.New(), ContextType: models.ThreadContextDirect, UserLow: low, UserHigh: high}
		res := Evaluate(direct, deliveredOrder, listingID, buyer, seller, false)
		assert.False(t, res.Eligible)
	})

	t.Run("тред по другому объявлению", func(t *testing.T) {
		otherID := uuid.New()
		other := &models.Thread{ID: uuid.New(), ContextType: models.ThreadContextListing, ContextID: &otherID, UserLow: low, UserHigh: high}
		res := Evaluate(other, deliveredOrder, listingID, buyer, seller, false)
		assert.False(t, res.Eligible)
	})

	t.Run("не участник", func(t *testing.T) {
		res := Evaluate(thread, deliveredOrder, listingID, stranger, seller, false)
		assert.False(t, res.Eligible)
	})

	t.Run("продавец сам о себе", func(t *testing.T) {
		res := Evaluate(thread, deliveredOrder, listingID, seller, seller, false)
		assert.False(t, res.Eligible)
	})

	t.Run("без заказа", func(t *testing.T) {
		res := Evaluate(thread, nil, listingID, buyer, seller, false)
		assert.False(t, res.Eligible)
		assert.Contains(t, res.Reason, "нет заказа")
	})

	t.Run("чужой заказ", func(t *testing.T) {
		foreign := *deliveredOrder
		foreign.BuyerID = stranger
		res := Evaluate(thread, &foreign, listingID, buyer, seller, false)
		assert.False(t, res.Eligible)
	})

	t.Run("до доставки отзыв недоступен", func(t *testing.T) {
		for _, status := range []string{
			models.OrderStatusNegotiating,
			models.OrderStatusPriceAccepted,
			models.OrderStatusAddressProvided,
			models.OrderStatusShipped,
			models.OrderStatusCancelled,
		} {
			pending := *deliveredOrder
			pending.Status = status
			res := Evaluate(thread, &pending, listingID, buyer, seller, false)
			assert.False(t, res.Eligible, "статус %s", status)
		}
	})

	t.Run("повторный отзыв", func(t *testing.T) {
		res := Evaluate(thread, deliveredOrder, listingID, buyer, seller, true)
		assert.False(t, res.Eligible)
		assert.Contains(t, res.Reason, "уже оставили")
	})
}
