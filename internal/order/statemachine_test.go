package order

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rajivgeraev/plantswap-api/internal/models"
)

var allStatuses = []string{
	models.OrderStatusNegotiating,
	models.OrderStatusPriceAccepted,
	models.OrderStatusAddressProvided,
	models.OrderStatusShipped,
	models.OrderStatusDelivered,
	models.OrderStatusCancelled,
}

func TestCanTransitionHappyPath(t *testing.T) {
	tests := []struct {
		name       string
		from, to   string
		role       string
		hasAddress bool
		allowed    bool
	}{
		{"продавец подтверждает цену", models.OrderStatusNegotiating, models.OrderStatusPriceAccepted, RoleSeller, false, true},
		{"покупатель не может подтвердить цену", models.OrderStatusNegotiating, models.OrderStatusPriceAccepted, RoleBuyer, false, false},
		{"покупатель указывает адрес", models.OrderStatusPriceAccepted, models.OrderStatusAddressProvided, RoleBuyer, true, true},
		{"адрес без адреса отклоняется", models.OrderStatusPriceAccepted, models.OrderStatusAddressProvided, RoleBuyer, false, false},
		{"продавец не может указать адрес", models.OrderStatusPriceAccepted, models.OrderStatusAddressProvided, RoleSeller, true, false},
		{"продавец отмечает отправку", models.OrderStatusAddressProvided, models.OrderStatusShipped, RoleSeller, false, true},
		{"покупатель не может отметить отправку", models.OrderStatusAddressProvided, models.OrderStatusShipped, RoleBuyer, false, false},
		{"покупатель подтверждает получение", models.OrderStatusShipped, models.OrderStatusDelivered, RoleBuyer, false, true},
		{"продавец не может подтвердить получение", models.OrderStatusShipped, models.OrderStatusDelivered, RoleSeller, false, false},
		{"пропуск шага отклоняется", models.OrderStatusNegotiating, models.OrderStatusShipped, RoleSeller, false, false},
		{"движение назад отклоняется", models.OrderStatusShipped, models.OrderStatusPriceAccepted, RoleSeller, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CanTransition(tt.from, tt.to, tt.role, tt.hasAddress)
			assert.Equal(t, tt.allowed, res.Allowed)
			if !tt.allowed {
				assert.NotEmpty(t, res.Reason, "отказ обязан нести причину")
			}
		})
	}
}

func TestCanTransitionSelfIsNeverAllowed(t *testing.T) {
	for _, status := range allStatuses {
		for _, role := range []string{RoleBuyer, RoleSeller} {
			res := CanTransition(status, status, role, true)
			assert.False(t, res.Allowed, "переход %s -> %s не должен быть разрешён", status, status)
		}
	}
}

func TestCanTransitionCancellation(t *testing.T) {
	cancellable := []string{
		models.OrderStatusNegotiating,
		models.OrderStatusPriceAccepted,
		models.OrderStatusAddressProvided,
		models.OrderStatusShipped,
	}
	for _, from := range cancellable {
		for _, role := range []string{RoleBuyer, RoleSeller} {
			res := CanTransition(from, models.OrderStatusCancelled, role, false)
			assert.True(t, res.Allowed, "отмена из %s ролью %s", from, role)
		}
	}

	// доставленный заказ отменить нельзя
	res := CanTransition(models.OrderStatusDelivered, models.OrderStatusCancelled, RoleBuyer, false)
	assert.False(t, res.Allowed)
}

func TestCanTransitionTerminalStates(t *testing.T) {
	for _, from := range []string{models.OrderStatusDelivered, models.OrderStatusCancelled} {
		for _, to := range allStatuses {
			if from == to {
				continue
			}
			for _, role := range []string{RoleBuyer, RoleSeller} {
				res := CanTransition(from, to, role, true)
				assert.False(t, res.Allowed, "из %s нет переходов (в %s)", from, to)
			}
		}
	}
}

func TestDeriveListingStatus(t *testing.T) {
	assert.Equal(t, models.ListingStatusReserved, DeriveListingStatus(models.OrderStatusPriceAccepted, models.OrderStatusNegotiating))
	assert.Equal(t, models.ListingStatusReserved, DeriveListingStatus(models.OrderStatusAddressProvided, models.OrderStatusPriceAccepted))
	assert.Equal(t, models.ListingStatusReserved, DeriveListingStatus(models.OrderStatusShipped, models.OrderStatusAddressProvided))
	assert.Equal(t, models.ListingStatusSold, DeriveListingStatus(models.OrderStatusDelivered, models.OrderStatusShipped))
	assert.Equal(t, models.ListingStatusActive, DeriveListingStatus(models.OrderStatusCancelled, models.OrderStatusShipped))
	assert.Equal(t, "", DeriveListingStatus(models.OrderStatusNegotiating, ""))
}
