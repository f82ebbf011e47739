package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы сообщений в треде
const (
	MessageTypeText        = "text"
	MessageTypeOfferPrice  = "offer_price"  // ценовое предложение покупателя
	MessageTypeOfferSwap   = "offer_swap"   // предложение обмена
	MessageTypeSystem      = "system"       // системное уведомление
	MessageTypeOrderStatus = "order_status" // смена статуса заказа
)

// Message — запись в ленте треда. Лента append-only: каждый переход
// состояния сделки оставляет ровно одно сообщение, так что тред является
// полным журналом транзакции.
type Message struct {
	ID        uuid.UUID              `json:"id"`
	ThreadID  uuid.UUID              `json:"thread_id"`
	SenderID  uuid.UUID              `json:"sender_id"`
	Type      string                 `json:"type"`
	Text      string                 `json:"text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	IsRead    bool                   `json:"is_read"`
	CreatedAt time.Time              `json:"created_at"`

	// Дополнительные поля для API
	Sender *User `json:"sender,omitempty"`
}
