package models

import (
	"time"

	"github.com/google/uuid"
)

// Review — отзыв покупателя о продавце по конкретному объявлению.
// Один отзыв на пару (reviewer_id, listing_id), после создания неизменяем.
type Review struct {
	ID         uuid.UUID `json:"id"`
	ListingID  uuid.UUID `json:"listing_id"`
	ReviewerID uuid.UUID `json:"reviewer_id"`
	SellerID   uuid.UUID `json:"seller_id"`
	Rating     int       `json:"rating"`
	Text       string    `json:"text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// Дополнительные поля для API
	Reviewer *User `json:"reviewer,omitempty"`
}
