package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы заказа. Прямой путь строго монотонный, cancelled —
// единственный терминальный статус, достижимый до доставки.
const (
	OrderStatusNegotiating     = "negotiating"
	OrderStatusPriceAccepted   = "price_accepted"
	OrderStatusAddressProvided = "address_provided"
	OrderStatusShipped         = "shipped"
	OrderStatusDelivered       = "delivered"
	OrderStatusCancelled       = "cancelled"
)

// SwapPlaceholderPrice — номинальная цена для обменных сделок: инварианты
// заказа требуют положительную цену, реальной суммы у обмена нет.
const SwapPlaceholderPrice = 0.01

// Order — запись о сделке по треду объявления. Ровно один заказ на тред
// (уникальный индекс по thread_id).
type Order struct {
	ID              uuid.UUID        `json:"id"`
	ThreadID        uuid.UUID        `json:"thread_id"`
	ListingID       uuid.UUID        `json:"listing_id"`
	BuyerID         uuid.UUID        `json:"buyer_id"`
	SellerID        uuid.UUID        `json:"seller_id"`
	Status          string           `json:"status"`
	AcceptedPrice   float64          `json:"accepted_price"`
	IsSwap          bool             `json:"is_swap"`
	ShippingAddress *ShippingAddress `json:"shipping_address,omitempty"`
	TrackingNumber  *string          `json:"tracking_number,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ShippingAddress — адрес доставки покупателя. Все поля кроме телефона
// обязательны. Хранится в заказе как JSONB.
type ShippingAddress struct {
	Name    string `json:"name"`
	Street  string `json:"street"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
}
