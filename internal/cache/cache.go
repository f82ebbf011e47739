package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rajivgeraev/plantswap-api/internal/config"
)

// Client — клиент Redis для кэша читающих ручек. Может быть nil, если
// Redis не сконфигурирован: все функции инвалидации это учитывают.
var Client *redis.Client

// InitCache инициализирует подключение к Redis
func InitCache(cfg *config.Config) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("ошибка подключения к Redis: %w", err)
	}

	Client = rdb
	log.Println("✅ Успешное подключение к Redis")
	return nil
}

// CloseCache закрывает подключение к Redis
func CloseCache() {
	if Client != nil {
		_ = Client.Close()
	}
}

// Ключи кэша читающих ручек
func threadKey(threadID uuid.UUID) string { return "cache:thread:" + threadID.String() }
func inboxKey(userID uuid.UUID) string    { return "cache:inbox:" + userID.String() }
func listingKey(listingID uuid.UUID) string {
	return "cache:listing:" + listingID.String()
}

// InvalidateThreadViews сбрасывает кэш треда и инбоксов обоих участников.
// Вызывается после каждой записи в тред или смены статуса заказа.
func InvalidateThreadViews(ctx context.Context, threadID, userA, userB uuid.UUID) {
	deleteKeys(ctx, threadKey(threadID), inboxKey(userA), inboxKey(userB))
}

// InvalidateListingViews сбрасывает кэш карточки объявления
func InvalidateListingViews(ctx context.Context, listingID uuid.UUID) {
	deleteKeys(ctx, listingKey(listingID))
}

func deleteKeys(ctx context.Context, keys ...string) {
	if Client == nil {
		return
	}
	if err := Client.Del(ctx, keys...).Err(); err != nil {
		// Кэш не является источником истины, поэтому ошибку только логируем
		log.Printf("Ошибка инвалидации кэша %v: %v", keys, err)
	}
}
