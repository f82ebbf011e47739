package auction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/rajivgeraev/plantswap-api/internal/models"
)

func fptr(v float64) *float64 { return &v }

func TestComputeMinimumBid(t *testing.T) {
	assert.Equal(t, 10.0, ComputeMinimumBid(10, 1, nil), "без ставок минимум равен стартовой цене")
	assert.Equal(t, 11.0, ComputeMinimumBid(10, 1, fptr(10)))
	assert.Equal(t, 26.5, ComputeMinimumBid(10, 1.5, fptr(25)))

	// монотонность по topBid
	prev := ComputeMinimumBid(10, 1, fptr(10))
	for _, top := range []float64{11, 12.5, 100, 999.99} {
		cur := ComputeMinimumBid(10, 1, fptr(top))
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestValidateBid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	tests := []struct {
		name       string
		topBid     *float64
		proposed   float64
		endsAt     *time.Time
		accepted   bool
		reject     string
		minimumBid float64
	}{
		{"первая ставка ниже старта", nil, 9, &future, false, RejectBidTooLow, 10},
		{"первая ставка равна старту", nil, 10, &future, true, "", 10},
		{"ставка ниже шага", fptr(10), 10.50, &future, false, RejectBidTooLow, 11},
		{"ставка ровно с шагом", fptr(10), 11, &future, true, "", 11},
		{"ставка выше минимума", fptr(10), 50, &future, true, "", 11},
		{"аукцион завершён", fptr(10), 100, &past, false, RejectAuctionEnded, 11},
		{"аукцион завершается ровно сейчас", nil, 100, &now, false, RejectAuctionEnded, 10},
		{"без срока окончания", fptr(10), 11, nil, true, "", 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateBid(10, 1, tt.topBid, tt.proposed, tt.endsAt, now)
			assert.Equal(t, tt.accepted, res.Accepted)
			assert.Equal(t, tt.reject, res.Reject)
			assert.Equal(t, tt.minimumBid, res.MinimumBid)
			if tt.reject == RejectBidTooLow {
				assert.Contains(t, res.Reason, FormatAmount(tt.minimumBid), "в отказе должен быть указан минимум")
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "€10.00", FormatAmount(10))
	assert.Equal(t, "€10.50", FormatAmount(10.5))
}

func TestPickWinningBid(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, PickWinningBid(nil))
	assert.Nil(t, PickWinningBid([]models.Bid{}))

	b1 := models.Bid{ID: uuid.New(), Amount: 25, CreatedAt: base}
	b2 := models.Bid{ID: uuid.New(), Amount: 30, CreatedAt: base.Add(time.Minute)}
	b3 := models.Bid{ID: uuid.New(), Amount: 30, CreatedAt: base.Add(2 * time.Minute)}

	winner := PickWinningBid([]models.Bid{b1, b2, b3})
	assert.Equal(t, b2.ID, winner.ID, "при равных суммах выигрывает более ранняя ставка")

	winner = PickWinningBid([]models.Bid{b3, b2, b1})
	assert.Equal(t, b2.ID, winner.ID, "результат не зависит от порядка входа")
}
