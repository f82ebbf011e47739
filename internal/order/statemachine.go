package order

import (
	"github.com/rajivgeraev/plantswap-api/internal/models"
)

// Роли участников сделки
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// TransitionResult — решение машины состояний заказа
type TransitionResult struct {
	Allowed bool
	Reason  string // текст для пользователя при отказе
}

func allowed() TransitionResult {
	return TransitionResult{Allowed: true}
}

func rejected(reason string) TransitionResult {
	return TransitionResult{Reason: reason}
}

// CanTransition решает, допустим ли переход статуса заказа для данной
// роли. Повторный переход в тот же статус всегда отклоняется: прогресс
// заказа однонаправленный, идемпотентность обеспечивают вызывающие.
func CanTransition(from, to, actorRole string, hasShippingAddress bool) TransitionResult {
	if from == to {
		return rejected("Заказ уже находится в этом статусе")
	}

	// delivered и cancelled терминальны
	switch from {
	case models.OrderStatusDelivered:
		return rejected("Заказ уже доставлен, изменение статуса невозможно")
	case models.OrderStatusCancelled:
		return rejected("Заказ отменён, изменение статуса невозможно")
	}

	// отмена доступна обеим сторонам из любого недоставленного статуса
	if to == models.OrderStatusCancelled {
		return allowed()
	}

	switch {
	case from == models.OrderStatusNegotiating && to == models.OrderStatusPriceAccepted:
		if actorRole != RoleSeller {
			return rejected("Подтвердить цену может только продавец")
		}
		return allowed()

	case from == models.OrderStatusPriceAccepted && to == models.OrderStatusAddressProvided:
		if actorRole != RoleBuyer {
			return rejected("Адрес доставки указывает покупатель")
		}
		if !hasShippingAddress {
			return rejected("Укажите адрес доставки")
		}
		return allowed()

	case from == models.OrderStatusAddressProvided && to == models.OrderStatusShipped:
		if actorRole != RoleSeller {
			return rejected("Отметить отправку может только продавец")
		}
		return allowed()

	case from == models.OrderStatusShipped && to == models.OrderStatusDelivered:
		if actorRole != RoleBuyer {
			return rejected("Подтвердить получение может только покупатель")
		}
		return allowed()
	}

	return rejected("Недопустимый переход статуса заказа")
}

// DeriveListingStatus возвращает новый публичный статус объявления после
// перехода заказа, либо пустую строку, если статус менять не нужно.
// Вызывается при каждом сохранении перехода, чтобы объявление и заказ
// не расходились.
func DeriveListingStatus(nextOrderStatus, prevOrderStatus string) string {
	switch nextOrderStatus {
	case models.OrderStatusPriceAccepted, models.OrderStatusAddressProvided, models.OrderStatusShipped:
		return models.ListingStatusReserved
	case models.OrderStatusDelivered:
		return models.ListingStatusSold
	case models.OrderStatusCancelled:
		// сделка сорвалась — объявление снова открыто
		return models.ListingStatusActive
	}
	return ""
}
