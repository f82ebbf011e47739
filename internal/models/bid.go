package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid представляет ставку на аукционе. Записи неизменяемы: ставки
// никогда не обновляются и не удаляются. Текущая максимальная ставка —
// строка с наибольшей суммой, при равенстве выигрывает более ранняя.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	ListingID uuid.UUID `json:"listing_id"`
	BidderID  uuid.UUID `json:"bidder_id"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`

	// Дополнительные поля для API
	Bidder *User `json:"bidder,omitempty"`
}
