package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы продажи объявления
const (
	SaleTypeFixed   = "fixed"   // фиксированная цена
	SaleTypeAuction = "auction" // аукцион
)

// Статусы объявления
const (
	ListingStatusDraft    = "draft"
	ListingStatusActive   = "active"
	ListingStatusReserved = "reserved"
	ListingStatusSold     = "sold"
	ListingStatusExpired  = "expired"
	ListingStatusRemoved  = "removed"
)

// Listing представляет объявление о продаже растения.
// Инвариант: price заполнен только при типе fixed, аукционные поля
// (start_price, min_increment, auction_ends_at) — только при типе auction.
type Listing struct {
	ID            uuid.UUID      `json:"id"`
	UserID        uuid.UUID      `json:"user_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Categories    []string       `json:"categories"`
	SaleType      string         `json:"sale_type"`
	Status        string         `json:"status"`
	Price         *float64       `json:"price,omitempty"`
	StartPrice    *float64       `json:"start_price,omitempty"`
	MinIncrement  *float64       `json:"min_increment,omitempty"`
	AuctionEndsAt *time.Time     `json:"auction_ends_at,omitempty"`
	Images        []ListingImage `json:"images"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ListingImage представляет фотографию растения в объявлении
type ListingImage struct {
	ID         uuid.UUID `json:"id"`
	ListingID  uuid.UUID `json:"listing_id"`
	URL        string    `json:"url"`
	PreviewURL string    `json:"preview_url,omitempty"`
	PublicID   string    `json:"public_id"`
	FileName   string    `json:"file_name,omitempty"`
	IsMain     bool      `json:"is_main"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsActiveAuction сообщает, принимает ли объявление ставки
func (l *Listing) IsActiveAuction() bool {
	return l.SaleType == SaleTypeAuction && l.Status == ListingStatusActive
}
