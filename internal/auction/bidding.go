package auction

import (
	"fmt"
	"time"

	"github.com/rajivgeraev/plantswap-api/internal/models"
)

// Коды отказа валидации ставки
const (
	RejectAuctionEnded = "auction_ended"
	RejectBidTooLow    = "bid_too_low"
)

// BidResult — результат проверки ставки. MinimumBid заполняется всегда,
// в том числе при успехе — фронтенд показывает его под полем ввода.
type BidResult struct {
	Accepted   bool
	MinimumBid float64
	Reject     string // код отказа, пустой при успехе
	Reason     string // готовый текст для пользователя
}

// ComputeMinimumBid возвращает минимально допустимую следующую ставку:
// стартовую цену, если ставок ещё не было, иначе максимальную ставку
// плюс минимальный шаг.
func ComputeMinimumBid(startPrice, minIncrement float64, topBid *float64) float64 {
	if topBid == nil {
		return startPrice
	}
	return *topBid + minIncrement
}

// ValidateBid проверяет предложенную ставку против правил аукциона.
// Без побочных эффектов: время передаётся параметром now.
func ValidateBid(startPrice, minIncrement float64, topBid *float64, proposed float64, endsAt *time.Time, now time.Time) BidResult {
	minimum := ComputeMinimumBid(startPrice, minIncrement, topBid)

	if endsAt != nil && !endsAt.After(now) {
		return BidResult{
			MinimumBid: minimum,
			Reject:     RejectAuctionEnded,
			Reason:     "Аукцион уже завершён",
		}
	}

	if proposed < minimum {
		return BidResult{
			MinimumBid: minimum,
			Reject:     RejectBidTooLow,
			Reason:     fmt.Sprintf("Минимальная ставка: %s", FormatAmount(minimum)),
		}
	}

	return BidResult{Accepted: true, MinimumBid: minimum}
}

// FormatAmount форматирует сумму для пользовательских сообщений
func FormatAmount(amount float64) string {
	return fmt.Sprintf("€%.2f", amount)
}

// PickWinningBid выбирает выигрышную ставку: максимальная сумма, при
// равенстве — более ранняя. Возвращает nil, если ставок нет. Используется
// джобой закрытия аукционов; порядок обязан совпадать с SQL-запросом
// текущей максимальной ставки (ORDER BY amount DESC, created_at ASC).
func PickWinningBid(bids []models.Bid) *models.Bid {
	var winner *models.Bid
	for i := range bids {
		b := &bids[i]
		if winner == nil {
			winner = b
			continue
		}
		if b.Amount > winner.Amount {
			winner = b
			continue
		}
		if b.Amount == winner.Amount && b.CreatedAt.Before(winner.CreatedAt) {
			winner = b
		}
	}
	return winner
}
