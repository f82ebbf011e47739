package thread

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/plantswap-api/internal/cache"
	"github.com/rajivgeraev/plantswap-api/internal/config"
	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/models"
	"github.com/rajivgeraev/plantswap-api/internal/utils"
)

// ThreadService представляет сервис для работы с тредами переговоров
type ThreadService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewThreadService создает новый экземпляр ThreadService
func NewThreadService(cfg *config.Config) *ThreadService {
	return &ThreadService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// GetThreads возвращает инбокс пользователя
func (s *ThreadService) GetThreads(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	query := `
        SELECT t.id, t.context_type, t.context_id, t.user_low, t.user_high,
               t.deal_confirmed_at, t.last_message_text, t.last_message_time,
               t.created_at, t.updated_at,
               COUNT(m.id) FILTER (WHERE m.sender_id != $1 AND m.is_read = false) AS unread_count
        FROM threads t
        LEFT JOIN messages m ON t.id = m.thread_id
        WHERE t.user_low = $1 OR t.user_high = $1
        GROUP BY t.id
        ORDER BY t.last_message_time DESC NULLS LAST, t.created_at DESC
    `

	rows, err := db.Pool.Query(ctx, query, userUUID)
	if err != nil {
		log.Printf("Ошибка запроса тредов: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения переписок"})
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		var t models.Thread
		var lastMessageText *string
		var unreadCount int

		if err := rows.Scan(
			&t.ID,
			&t.ContextType,
			&t.ContextID,
			&t.UserLow,
			&t.UserHigh,
			&t.DealConfirmedAt,
			&lastMessageText,
			&t.LastMessageTime,
			&t.CreatedAt,
			&t.UpdatedAt,
			&unreadCount,
		); err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}

		if lastMessageText != nil {
			t.LastMessageText = *lastMessageText
		}
		t.UnreadCount = unreadCount

		// Собеседник — второй участник треда
		t.Companion = getUserInfo(ctx, t.OtherParticipant(userUUID))

		threads = append(threads, t)
	}

	return c.JSON(fiber.Map{
		"threads": threads,
		"count":   len(threads),
	})
}

// GetThreadMessages возвращает сообщения конкретного треда
func (s *ThreadService) GetThreadMessages(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	threadID := c.Params("id")

	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	threadUUID, err := uuid.Parse(threadID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID треда"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	thread, err := loadThread(ctx, threadUUID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Переписка не найдена"})
		}
		log.Printf("Ошибка запроса треда: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения переписки"})
	}

	if !thread.HasParticipant(userUUID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "У вас нет доступа к этой переписке"})
	}

	limit := 50

	// Обрабатываем пагинацию
	before := c.Query("before")
	var query string
	var queryArgs []interface{}

	if before != "" {
		beforeUUID, err := uuid.Parse(before)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сообщения"})
		}

		query = `
            SELECT m.id, m.thread_id, m.sender_id, m.type, m.text, m.metadata, m.is_read, m.created_at
            FROM messages m
            WHERE m.thread_id = $1 AND m.id < $2
            ORDER BY m.created_at DESC
            LIMIT $3
        `
		queryArgs = []interface{}{threadUUID, beforeUUID, limit}
	} else {
		query = `
            SELECT m.id, m.thread_id, m.sender_id, m.type, m.text, m.metadata, m.is_read, m.created_at
            FROM messages m
            WHERE m.thread_id = $1
            ORDER BY m.created_at DESC
            LIMIT $2
        `
		queryArgs = []interface{}{threadUUID, limit}
	}

	rows, err := db.Pool.Query(ctx, query, queryArgs...)
	if err != nil {
		log.Printf("Ошибка запроса сообщений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения сообщений"})
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.SenderID,
			&msg.Type,
			&msg.Text,
			&msg.Metadata,
			&msg.IsRead,
			&msg.CreatedAt,
		); err != nil {
			log.Printf("Ошибка сканирования сообщения: %v", err)
			continue
		}

		msg.Sender = getUserInfo(ctx, msg.SenderID)
		messages = append(messages, msg)
	}

	// Отмечаем сообщения как прочитанные
	_, err = db.Pool.Exec(ctx, `
        UPDATE messages
        SET is_read = true
        WHERE thread_id = $1 AND sender_id != $2 AND is_read = false
    `, threadUUID, userUUID)

	if err != nil {
		log.Printf("Ошибка обновления статуса прочтения: %v", err)
		// Не возвращаем ошибку, основная функциональность выполнена
	}

	return c.JSON(fiber.Map{
		"messages": messages,
		"has_more": len(messages) == limit,
	})
}

// SendMessage отправляет сообщение в тред. Поддерживаются типы text,
// offer_price (с обязательной положительной суммой) и offer_swap.
func (s *ThreadService) SendMessage(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	threadID := c.Params("id")

	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	threadUUID, err := uuid.Parse(threadID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID треда"})
	}

	var requestData struct {
		Type   string   `json:"type"`
		Text   string   `json:"text"`
		Amount *float64 `json:"amount"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.Type == "" {
		requestData.Type = models.MessageTypeText
	}

	var metadata map[string]interface{}
	switch requestData.Type {
	case models.MessageTypeText:
		if requestData.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Текст сообщения не может быть пустым"})
		}
	case models.MessageTypeOfferPrice:
		if requestData.Amount == nil || *requestData.Amount <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Укажите сумму предложения"})
		}
		metadata = map[string]interface{}{"amount": *requestData.Amount}
	case models.MessageTypeOfferSwap:
		metadata = map[string]interface{}{}
	default:
		// Системные типы пишет только движок сделок
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Недопустимый тип сообщения"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	thread, err := loadThread(ctx, threadUUID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Переписка не найдена"})
		}
		log.Printf("Ошибка запроса треда: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения переписки"})
	}

	if !thread.HasParticipant(userUUID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "У вас нет доступа к этой переписке"})
	}

	// Предложения цены и обмена имеют смысл только в треде объявления
	if (requestData.Type == models.MessageTypeOfferPrice || requestData.Type == models.MessageTypeOfferSwap) &&
		thread.ContextType != models.ThreadContextListing {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Предложение можно отправить только в переписке по объявлению"})
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	messageID := uuid.New()
	now := time.Now()

	_, err = tx.Exec(ctx, `
        INSERT INTO messages (id, thread_id, sender_id, type, text, metadata, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, messageID, threadUUID, userUUID, requestData.Type, requestData.Text, metadata, false, now)

	if err != nil {
		log.Printf("Ошибка создания сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения сообщения"})
	}

	_, err = tx.Exec(ctx, `
        UPDATE threads
        SET last_message_text = $1, last_message_time = $2, updated_at = $3
        WHERE id = $4
    `, requestData.Text, now, now, threadUUID)

	if err != nil {
		log.Printf("Ошибка обновления информации о треде: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления переписки"})
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	cache.InvalidateThreadViews(ctx, threadUUID, thread.UserLow, thread.UserHigh)

	message := models.Message{
		ID:        messageID,
		ThreadID:  threadUUID,
		SenderID:  userUUID,
		Type:      requestData.Type,
		Text:      requestData.Text,
		Metadata:  metadata,
		IsRead:    false,
		CreatedAt: now,
		Sender:    getUserInfo(ctx, userUUID),
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": message,
		"success": true,
	})
}

// CreateThread находит или лениво создает канонический тред между
// текущим пользователем и получателем в заданном контексте
func (s *ThreadService) CreateThread(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		RecipientID string `json:"recipient_id"`
		ContextType string `json:"context_type"`
		ContextID   string `json:"context_id,omitempty"`
		Message     string `json:"message,omitempty"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.RecipientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID получателя не указан"})
	}

	senderUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID отправителя"})
	}

	recipientUUID, err := uuid.Parse(requestData.RecipientID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID получателя"})
	}

	if senderUUID == recipientUUID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Нельзя создать переписку с самим собой"})
	}

	// Разбираем контекст треда
	if requestData.ContextType == "" {
		requestData.ContextType = models.ThreadContextDirect
	}

	var contextID *uuid.UUID
	if requestData.ContextID != "" {
		parsed, err := uuid.Parse(requestData.ContextID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID контекста"})
		}
		contextID = &parsed
	}

	threadContext, err := models.ParseThreadContext(requestData.ContextType, contextID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Недопустимый контекст переписки"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	// Проверяем существование получателя
	var recipientExists bool
	err = db.Pool.QueryRow(ctx, `
        SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)
    `, recipientUUID).Scan(&recipientExists)
	if err != nil {
		log.Printf("Ошибка проверки существования получателя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки получателя"})
	}
	if !recipientExists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Получатель не найден"})
	}

	// Для контекста объявления проверяем само объявление
	if listingCtx, ok := threadContext.(models.ListingThread); ok {
		var listingExists bool
		err = db.Pool.QueryRow(ctx, `
            SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1 AND status != 'removed')
        `, listingCtx.ListingID).Scan(&listingExists)
		if err != nil {
			log.Printf("Ошибка проверки объявления: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки объявления"})
		}
		if !listingExists {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Объявление не найдено"})
		}
	}

	threadID, isNew, err := findOrCreateThread(ctx, threadContext, senderUUID, recipientUUID)
	if err != nil {
		log.Printf("Ошибка создания треда: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка создания переписки"})
	}

	// Если указано начальное сообщение, отправляем его
	if requestData.Message != "" {
		now := time.Now()
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			log.Printf("Ошибка начала транзакции: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx, `
            INSERT INTO messages (id, thread_id, sender_id, type, text, is_read, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
        `, uuid.New(), threadID, senderUUID, models.MessageTypeText, requestData.Message, false, now)
		if err != nil {
			log.Printf("Ошибка создания сообщения: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения сообщения"})
		}

		_, err = tx.Exec(ctx, `
            UPDATE threads
            SET last_message_text = $1, last_message_time = $2, updated_at = $3
            WHERE id = $4
        `, requestData.Message, now, now, threadID)
		if err != nil {
			log.Printf("Ошибка обновления информации о треде: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления переписки"})
		}

		if err = tx.Commit(ctx); err != nil {
			log.Printf("Ошибка фиксации транзакции: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
		}

		cache.InvalidateThreadViews(ctx, threadID, senderUUID, recipientUUID)
	}

	status := fiber.StatusOK
	if isNew {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(fiber.Map{
		"thread_id": threadID,
		"is_new":    isNew,
		"success":   true,
	})
}

// findOrCreateThread находит канонический тред по (контекст, пара) или
// создает новый. Пара участников всегда приводится к порядку
// CanonicalPair, поэтому тред на пару существует максимум один.
func findOrCreateThread(ctx context.Context, threadContext models.ThreadContext, userA, userB uuid.UUID) (uuid.UUID, bool, error) {
	low, high := models.CanonicalPair(userA, userB)
	now := time.Now()

	// Upsert по уникальному индексу треда. context_id у прямых тредов
	// NULL, а NULL в уникальном индексе не конфликтует, поэтому индекс и
	// условие построены через COALESCE с нулевым UUID. DO UPDATE нужен,
	// чтобы RETURNING вернул строку и при конфликте.
	var threadID uuid.UUID
	var createdAt time.Time
	err := db.Pool.QueryRow(ctx, `
        INSERT INTO threads (id, context_type, context_id, user_low, user_high, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (context_type, COALESCE(context_id, '00000000-0000-0000-0000-000000000000'::uuid), user_low, user_high)
        DO UPDATE SET updated_at = threads.updated_at
        RETURNING id, created_at
    `, uuid.New(), threadContext.ContextType(), threadContext.ContextID(), low, high, now).Scan(&threadID, &createdAt)
	if err != nil {
		return uuid.Nil, false, err
	}

	return threadID, createdAt.Equal(now) || createdAt.After(now), nil
}

// loadThread загружает тред по ID
func loadThread(ctx context.Context, threadID uuid.UUID) (*models.Thread, error) {
	var t models.Thread
	var lastMessageText *string

	err := db.Pool.QueryRow(ctx, `
        SELECT id, context_type, context_id, user_low, user_high,
               deal_confirmed_at, last_message_text, last_message_time,
               created_at, updated_at
        FROM threads
        WHERE id = $1
    `, threadID).Scan(
		&t.ID,
		&t.ContextType,
		&t.ContextID,
		&t.UserLow,
		&t.UserHigh,
		&t.DealConfirmedAt,
		&lastMessageText,
		&t.LastMessageTime,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastMessageText != nil {
		t.LastMessageText = *lastMessageText
	}

	return &t, nil
}

// getUserInfo получает базовую информацию о пользователе
func getUserInfo(ctx context.Context, userID uuid.UUID) *models.User {
	var user models.User
	err := db.Pool.QueryRow(ctx, `
        SELECT id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(avatar_url, '')
        FROM users
        WHERE id = $1
    `, userID).Scan(
		&user.ID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.AvatarURL,
	)

	if err != nil {
		log.Printf("Ошибка получения данных пользователя %s: %v", userID, err)
		return nil
	}

	return &user
}
