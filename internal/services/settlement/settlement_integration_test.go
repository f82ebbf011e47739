//go:build integration

package settlement

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/plantswap-api/internal/config"
	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/models"
)

// Ключ advisory lock: интеграционные тесты разных пакетов делят одну
// базу и не должны выполняться одновременно
const testDBLock = 874001

func setupIntegrationDB(t *testing.T) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL не задан, пропускаем интеграционные тесты")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	lockConn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = lockConn.Exec(ctx, `SELECT pg_advisory_lock($1)`, testDBLock)
	require.NoError(t, err)

	schema, err := os.ReadFile("../../../scripts/schema.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
        TRUNCATE reviews, thread_deal_confirmations, orders, messages, threads,
                 bids, listing_images, listings, telegram_users, users CASCADE
    `)
	require.NoError(t, err)

	db.Pool = pool
	t.Cleanup(func() {
		db.Pool = nil
		_, _ = lockConn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, testDBLock)
		lockConn.Release()
		pool.Close()
	})
}

func seedUser(t *testing.T, username string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Pool.Exec(context.Background(), `
        INSERT INTO users (id, username, first_name) VALUES ($1, $2, $2)
    `, id, username)
	require.NoError(t, err)
	return id
}

func seedAuction(t *testing.T, sellerID uuid.UUID, endsAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Pool.Exec(context.Background(), `
        INSERT INTO listings (id, user_id, title, sale_type, status, start_price, min_increment, auction_ends_at)
        VALUES ($1, $2, 'Монстера деликатесная', $3, $4, 10, 1, $5)
    `, id, sellerID, models.SaleTypeAuction, models.ListingStatusActive, endsAt)
	require.NoError(t, err)
	return id
}

func seedBid(t *testing.T, listingID, bidderID uuid.UUID, amount float64, at time.Time) {
	t.Helper()
	_, err := db.Pool.Exec(context.Background(), `
        INSERT INTO bids (id, listing_id, bidder_id, amount, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, uuid.New(), listingID, bidderID, amount, at)
	require.NoError(t, err)
}

func listingStatus(t *testing.T, listingID uuid.UUID) string {
	t.Helper()
	var status string
	err := db.Pool.QueryRow(context.Background(), `
        SELECT status FROM listings WHERE id = $1
    `, listingID).Scan(&status)
	require.NoError(t, err)
	return status
}

func threadConfirmations(t *testing.T, threadID uuid.UUID) map[uuid.UUID]time.Time {
	t.Helper()
	rows, err := db.Pool.Query(context.Background(), `
        SELECT user_id, confirmed_at FROM thread_deal_confirmations WHERE thread_id = $1
    `, threadID)
	require.NoError(t, err)
	defer rows.Close()

	confirmations := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var userID uuid.UUID
		var confirmedAt time.Time
		require.NoError(t, rows.Scan(&userID, &confirmedAt))
		confirmations[userID] = confirmedAt
	}
	return confirmations
}

// Повторный запуск закрытия аукционов не должен трогать уже закрытое
// объявление: счетчики нулевые, подтверждения и заказ не меняются.
func TestRunSettlementTwiceFinalizesOnce(t *testing.T) {
	setupIntegrationDB(t)
	ctx := context.Background()

	seller := seedUser(t, "seller")
	bidderA := seedUser(t, "bidder_a")
	bidderB := seedUser(t, "bidder_b")

	listingID := seedAuction(t, seller, time.Now().Add(-time.Hour))
	seedBid(t, listingID, bidderA, 20, time.Now().Add(-3*time.Hour))
	seedBid(t, listingID, bidderB, 25, time.Now().Add(-2*time.Hour))

	svc := NewSettlementService(&config.Config{})

	finalized, expired, err := svc.RunSettlement(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, finalized)
	assert.Equal(t, 0, expired)
	assert.Equal(t, models.ListingStatusSold, listingStatus(t, listingID))

	var threadID uuid.UUID
	var dealConfirmedAt time.Time
	err = db.Pool.QueryRow(ctx, `
        SELECT id, deal_confirmed_at FROM threads WHERE context_type = $1 AND context_id = $2
    `, models.ThreadContextListing, listingID).Scan(&threadID, &dealConfirmedAt)
	require.NoError(t, err)

	var buyerID uuid.UUID
	var acceptedPrice float64
	var orderStatus string
	err = db.Pool.QueryRow(ctx, `
        SELECT buyer_id, accepted_price, status FROM orders WHERE thread_id = $1
    `, threadID).Scan(&buyerID, &acceptedPrice, &orderStatus)
	require.NoError(t, err)
	assert.Equal(t, bidderB, buyerID)
	assert.Equal(t, 25.0, acceptedPrice)
	assert.Equal(t, models.OrderStatusPriceAccepted, orderStatus)

	firstConfirmations := threadConfirmations(t, threadID)
	require.Len(t, firstConfirmations, 2)
	assert.Contains(t, firstConfirmations, seller)
	assert.Contains(t, firstConfirmations, bidderB)

	// Второй запуск: объявление перечитывается под блокировкой, видит
	// статус sold и пропускается
	finalized, expired, err = svc.RunSettlement(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, finalized)
	assert.Equal(t, 0, expired)

	var threadCount int
	err = db.Pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM threads WHERE context_type = $1 AND context_id = $2
    `, models.ThreadContextListing, listingID).Scan(&threadCount)
	require.NoError(t, err)
	assert.Equal(t, 1, threadCount)

	secondConfirmations := threadConfirmations(t, threadID)
	require.Len(t, secondConfirmations, 2)
	for userID, confirmedAt := range firstConfirmations {
		assert.True(t, confirmedAt.Equal(secondConfirmations[userID]))
	}

	var dealConfirmedAtAfter time.Time
	err = db.Pool.QueryRow(ctx, `
        SELECT deal_confirmed_at FROM threads WHERE id = $1
    `, threadID).Scan(&dealConfirmedAtAfter)
	require.NoError(t, err)
	assert.True(t, dealConfirmedAt.Equal(dealConfirmedAtAfter))

	var messageCount int
	err = db.Pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM messages WHERE thread_id = $1
    `, threadID).Scan(&messageCount)
	require.NoError(t, err)
	assert.Equal(t, 1, messageCount)
}

func TestRunSettlementExpiresAuctionWithoutBids(t *testing.T) {
	setupIntegrationDB(t)
	ctx := context.Background()

	seller := seedUser(t, "seller")
	listingID := seedAuction(t, seller, time.Now().Add(-time.Hour))

	svc := NewSettlementService(&config.Config{})

	finalized, expired, err := svc.RunSettlement(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, finalized)
	assert.Equal(t, 1, expired)
	assert.Equal(t, models.ListingStatusExpired, listingStatus(t, listingID))

	var threadCount int
	err = db.Pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM threads WHERE context_type = $1 AND context_id = $2
    `, models.ThreadContextListing, listingID).Scan(&threadCount)
	require.NoError(t, err)
	assert.Equal(t, 0, threadCount)

	finalized, expired, err = svc.RunSettlement(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, finalized)
	assert.Equal(t, 0, expired)
}
