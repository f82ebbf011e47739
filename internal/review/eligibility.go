package review

import (
	"github.com/google/uuid"

	"github.com/rajivgeraev/plantswap-api/internal/models"
)

// Result — решение о праве оставить отзыв. Reason заполняется при отказе
// и показывается пользователю как есть.
type Result struct {
	Eligible bool
	Reason   string
}

func ineligible(reason string) Result {
	return Result{Reason: reason}
}

// Evaluate решает, может ли reviewer оставить отзыв о продавце по
// объявлению. Чистая функция над уже загруженными сущностями: тред,
// заказ треда (nil, если заказа нет) и факт существования прежнего
// отзыва передаются снаружи.
func Evaluate(thread *models.Thread, ord *models.Order, listingID, reviewerID, sellerID uuid.UUID, hasPriorReview bool) Result {
	if thread == nil {
		return ineligible("Переписка по этому объявлению не найдена")
	}
	if thread.ContextType != models.ThreadContextListing || thread.ContextID == nil || *thread.ContextID != listingID {
		return ineligible("Переписка не относится к этому объявлению")
	}
	if !thread.HasParticipant(reviewerID) {
		return ineligible("Вы не участник этой переписки")
	}
	if thread.OtherParticipant(reviewerID) != sellerID {
		return ineligible("Продавец не является участником этой переписки")
	}
	if reviewerID == sellerID {
		return ineligible("Нельзя оставить отзыв о самом себе")
	}
	if ord == nil {
		return ineligible("По этому объявлению ещё нет заказа")
	}
	if ord.BuyerID != reviewerID || ord.SellerID != sellerID {
		return ineligible("Отзыв может оставить только покупатель по заказу")
	}
	if ord.Status != models.OrderStatusDelivered {
		return ineligible("Отзыв можно оставить после получения заказа")
	}
	if hasPriorReview {
		return ineligible("Вы уже оставили отзыв по этому объявлению")
	}
	return Result{Eligible: true}
}
