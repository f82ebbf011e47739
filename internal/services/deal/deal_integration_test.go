//go:build integration

package deal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
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

func seedFixedListing(t *testing.T, sellerID uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Pool.Exec(context.Background(), `
        INSERT INTO listings (id, user_id, title, sale_type, status, price)
        VALUES ($1, $2, 'Фикус лировидный', $3, $4, 15)
    `, id, sellerID, models.SaleTypeFixed, models.ListingStatusActive)
	require.NoError(t, err)
	return id
}

func seedThread(t *testing.T, contextType string, contextID *uuid.UUID, userA, userB uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	low, high := models.CanonicalPair(userA, userB)
	_, err := db.Pool.Exec(context.Background(), `
        INSERT INTO threads (id, context_type, context_id, user_low, user_high)
        VALUES ($1, $2, $3, $4, $5)
    `, id, contextType, contextID, low, high)
	require.NoError(t, err)
	return id
}

// newConfirmApp собирает приложение с ручкой подтверждения сделки и
// заглушкой авторизации вместо проверки JWT
func newConfirmApp(userID uuid.UUID) *fiber.App {
	app := fiber.New()
	svc := NewDealService(&config.Config{})
	app.Post("/deals/:threadID/confirm", svc.ConfirmDeal, func(c fiber.Ctx) error {
		c.Locals("userID", userID.String())
		return c.Next()
	})
	return app
}

type confirmResponse struct {
	AlreadyConfirmed bool `json:"already_confirmed"`
	DealConfirmed    bool `json:"deal_confirmed"`
	Success          bool `json:"success"`
}

func postConfirm(t *testing.T, app *fiber.App, threadID uuid.UUID) (int, confirmResponse) {
	t.Helper()
	req := httptest.NewRequest("POST", "/deals/"+threadID.String()+"/confirm", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body confirmResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func dealConfirmedAt(t *testing.T, threadID uuid.UUID) *time.Time {
	t.Helper()
	var confirmedAt *time.Time
	err := db.Pool.QueryRow(context.Background(), `
        SELECT deal_confirmed_at FROM threads WHERE id = $1
    `, threadID).Scan(&confirmedAt)
	require.NoError(t, err)
	return confirmedAt
}

func confirmationCount(t *testing.T, threadID uuid.UUID) int {
	t.Helper()
	var count int
	err := db.Pool.QueryRow(context.Background(), `
        SELECT COUNT(*) FROM thread_deal_confirmations WHERE thread_id = $1
    `, threadID).Scan(&count)
	require.NoError(t, err)
	return count
}

// Повторное подтверждение продавца — успех без ошибки: строка
// подтверждения одна, дата не сдвигается, системное сообщение одно.
func TestConfirmDealTwiceSameEndState(t *testing.T) {
	setupIntegrationDB(t)

	seller := seedUser(t, "seller")
	buyer := seedUser(t, "buyer")
	listingID := seedFixedListing(t, seller)
	threadID := seedThread(t, models.ThreadContextListing, &listingID, seller, buyer)

	app := newConfirmApp(seller)

	status, body := postConfirm(t, app, threadID)
	require.Equal(t, fiber.StatusOK, status)
	assert.False(t, body.AlreadyConfirmed)
	assert.True(t, body.DealConfirmed)
	assert.True(t, body.Success)

	firstConfirmedAt := dealConfirmedAt(t, threadID)
	require.NotNil(t, firstConfirmedAt)
	assert.Equal(t, 1, confirmationCount(t, threadID))

	status, body = postConfirm(t, app, threadID)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, body.AlreadyConfirmed)
	assert.True(t, body.DealConfirmed)
	assert.True(t, body.Success)

	secondConfirmedAt := dealConfirmedAt(t, threadID)
	require.NotNil(t, secondConfirmedAt)
	assert.True(t, firstConfirmedAt.Equal(*secondConfirmedAt))
	assert.Equal(t, 1, confirmationCount(t, threadID))

	var messageCount int
	err := db.Pool.QueryRow(context.Background(), `
        SELECT COUNT(*) FROM messages WHERE thread_id = $1
    `, threadID).Scan(&messageCount)
	require.NoError(t, err)
	assert.Equal(t, 1, messageCount)
}

// Отметка покупателя в треде по объявлению сохраняется, но дату
// подтверждения не выставляет
func TestConfirmDealBuyerDoesNotFlipListingThread(t *testing.T) {
	setupIntegrationDB(t)

	seller := seedUser(t, "seller")
	buyer := seedUser(t, "buyer")
	listingID := seedFixedListing(t, seller)
	threadID := seedThread(t, models.ThreadContextListing, &listingID, seller, buyer)

	status, body := postConfirm(t, newConfirmApp(buyer), threadID)
	require.Equal(t, fiber.StatusOK, status)
	assert.False(t, body.AlreadyConfirmed)
	assert.False(t, body.DealConfirmed)

	assert.Nil(t, dealConfirmedAt(t, threadID))
	assert.Equal(t, 1, confirmationCount(t, threadID))
}

// Подтверждение доступно и в личном треде без объявления: отметка
// сохраняется, дату ставит любой участник
func TestConfirmDealDirectThread(t *testing.T) {
	setupIntegrationDB(t)

	userA := seedUser(t, "user_a")
	userB := seedUser(t, "user_b")
	threadID := seedThread(t, models.ThreadContextDirect, nil, userA, userB)

	status, body := postConfirm(t, newConfirmApp(userA), threadID)
	require.Equal(t, fiber.StatusOK, status)
	assert.False(t, body.AlreadyConfirmed)
	assert.True(t, body.DealConfirmed)

	require.NotNil(t, dealConfirmedAt(t, threadID))
	assert.Equal(t, 1, confirmationCount(t, threadID))

	// Второй участник: отметка добавляется, дата не сдвигается
	before := dealConfirmedAt(t, threadID)
	status, body = postConfirm(t, newConfirmApp(userB), threadID)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, body.DealConfirmed)
	assert.Equal(t, 2, confirmationCount(t, threadID))
	assert.True(t, before.Equal(*dealConfirmedAt(t, threadID)))
}
