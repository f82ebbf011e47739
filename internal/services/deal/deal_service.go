package deal

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/plantswap-api/internal/auction"
	"github.com/rajivgeraev/plantswap-api/internal/cache"
	"github.com/rajivgeraev/plantswap-api/internal/config"
	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/models"
	"github.com/rajivgeraev/plantswap-api/internal/order"
	"github.com/rajivgeraev/plantswap-api/internal/utils"
)

// DealService представляет сервис заключения и сопровождения сделок
type DealService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewDealService создает новый экземпляр DealService
func NewDealService(cfg *config.Config) *DealService {
	return &DealService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// dealContext — разрешенный контекст сделки: тред объявления, его
// объявление и роли сторон
type dealContext struct {
	Thread   *models.Thread
	Listing  *models.Listing
	BuyerID  uuid.UUID
	SellerID uuid.UUID
	Role     string // роль текущего пользователя
}

// resolveDealContext загружает тред и объявление, проверяет участие
// пользователя и вычисляет роли. Продавец — владелец объявления,
// покупатель — второй участник треда.
func resolveDealContext(ctx context.Context, threadID, userID uuid.UUID) (*dealContext, int, string) {
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
		if err == pgx.ErrNoRows {
			return nil, fiber.StatusNotFound, "Переписка не найдена"
		}
		log.Printf("Ошибка запроса треда: %v", err)
		return nil, fiber.StatusInternalServerError, "Ошибка получения переписки"
	}
	if lastMessageText != nil {
		t.LastMessageText = *lastMessageText
	}

	if !t.HasParticipant(userID) {
		return nil, fiber.StatusForbidden, "У вас нет доступа к этой переписке"
	}

	if t.ContextType != models.ThreadContextListing || t.ContextID == nil {
		return nil, fiber.StatusBadRequest, "Сделка возможна только в переписке по объявлению"
	}

	var l models.Listing
	err = db.Pool.QueryRow(ctx, `
        SELECT id, user_id, title, sale_type, status, price, start_price, min_increment, auction_ends_at
        FROM listings
        WHERE id = $1
    `, *t.ContextID).Scan(
		&l.ID,
		&l.UserID,
		&l.Title,
		&l.SaleType,
		&l.Status,
		&l.Price,
		&l.StartPrice,
		&l.MinIncrement,
		&l.AuctionEndsAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fiber.StatusNotFound, "Объявление не найдено"
		}
		log.Printf("Ошибка запроса объявления: %v", err)
		return nil, fiber.StatusInternalServerError, "Ошибка получения объявления"
	}

	if !t.HasParticipant(l.UserID) {
		log.Printf("Владелец объявления %s не участвует в треде %s", l.UserID, t.ID)
		return nil, fiber.StatusConflict, "Продавец не участвует в переписке"
	}

	dc := &dealContext{
		Thread:   &t,
		Listing:  &l,
		SellerID: l.UserID,
		BuyerID:  t.OtherParticipant(l.UserID),
	}
	if userID == dc.SellerID {
		dc.Role = order.RoleSeller
	} else {
		dc.Role = order.RoleBuyer
	}

	return dc, 0, ""
}

// loadOrderForUpdate загружает заказ треда с блокировкой строки.
// Возвращает nil без ошибки, если заказа еще нет.
func loadOrderForUpdate(ctx context.Context, tx pgx.Tx, threadID uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := tx.QueryRow(ctx, `
        SELECT id, thread_id, listing_id, buyer_id, seller_id, status,
               accepted_price, is_swap, shipping_address, tracking_number,
               created_at, updated_at
        FROM orders
        WHERE thread_id = $1
        FOR UPDATE
    `, threadID).Scan(
		&o.ID,
		&o.ThreadID,
		&o.ListingID,
		&o.BuyerID,
		&o.SellerID,
		&o.Status,
		&o.AcceptedPrice,
		&o.IsSwap,
		&o.ShippingAddress,
		&o.TrackingNumber,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// appendThreadMessage пишет сообщение в ленту треда и обновляет сводку
// последнего сообщения. Выполняется в той же транзакции, что и переход
// заказа: лента остается полным журналом сделки.
func appendThreadMessage(ctx context.Context, tx pgx.Tx, threadID, senderID uuid.UUID, msgType, text string, metadata map[string]interface{}, now time.Time) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO messages (id, thread_id, sender_id, type, text, metadata, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, uuid.New(), threadID, senderID, msgType, text, metadata, false, now)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
        UPDATE threads
        SET last_message_text = $1, last_message_time = $2, updated_at = $3
        WHERE id = $4
    `, text, now, now, threadID)
	return err
}

// syncListingStatus применяет производный от перехода заказа статус
// объявления, если он есть
func syncListingStatus(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, nextStatus, prevStatus string, now time.Time) error {
	derived := order.DeriveListingStatus(nextStatus, prevStatus)
	if derived == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
        UPDATE listings SET status = $1, updated_at = $2 WHERE id = $3
    `, derived, now, listingID)
	return err
}

var (
	deliveredAtProbe     sync.Once
	deliveredAtSupported bool
)

// threadDeliveredAtSupported проверяет один раз за процесс, есть ли в
// таблице threads колонка order_delivered_at. Схема может отставать от
// кода при раскатке, отметка о доставке в треде — необязательная.
func threadDeliveredAtSupported(ctx context.Context) bool {
	deliveredAtProbe.Do(func() {
		err := db.Pool.QueryRow(ctx, `
            SELECT EXISTS(
                SELECT 1 FROM information_schema.columns
                WHERE table_name = 'threads' AND column_name = 'order_delivered_at'
            )
        `).Scan(&deliveredAtSupported)
		if err != nil {
			log.Printf("Ошибка проверки колонки order_delivered_at: %v", err)
			deliveredAtSupported = false
		}
	})
	return deliveredAtSupported
}

// acceptOffer — общая часть подтверждения ценового и обменного
// предложения продавцом
func (s *DealService) acceptOffer(c fiber.Ctx, offerType string) error {
	userID := c.Locals("userID").(string)
	threadID := c.Params("threadID")

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	threadUUID, err := uuid.Parse(threadID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID треда"})
	}

	var requestData struct {
		MessageID string `json:"message_id"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	messageUUID, err := uuid.Parse(requestData.MessageID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сообщения"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	dc, status, errMsg := resolveDealContext(ctx, threadUUID, userUUID)
	if dc == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	if dc.Role != order.RoleSeller {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Принять предложение может только продавец"})
	}

	// Предложение должно существовать в этом треде и исходить от
	// покупателя
	var msgType, msgText string
	var msgSender uuid.UUID
	var msgMetadata map[string]interface{}
	err = db.Pool.QueryRow(ctx, `
        SELECT type, text, sender_id, metadata
        FROM messages
        WHERE id = $1 AND thread_id = $2
    `, messageUUID, threadUUID).Scan(&msgType, &msgText, &msgSender, &msgMetadata)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Предложение не найдено"})
		}
		log.Printf("Ошибка запроса сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения предложения"})
	}

	if msgType != offerType {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Сообщение не является предложением"})
	}
	if msgSender != dc.BuyerID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Принять можно только предложение покупателя"})
	}

	var price float64
	var isSwap bool
	var confirmText string
	if offerType == models.MessageTypeOfferSwap {
		price = models.SwapPlaceholderPrice
		isSwap = true
		confirmText = "Обмен согласован"
	} else {
		amount, ok := extractOfferAmount(msgMetadata, msgText)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "В предложении не указана сумма"})
		}
		price = amount
		confirmText = "Цена согласована: " + auction.FormatAmount(amount)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	ord, err := loadOrderForUpdate(ctx, tx, threadUUID)
	if err != nil {
		log.Printf("Ошибка запроса заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения заказа"})
	}

	prevStatus := models.OrderStatusNegotiating
	if ord != nil {
		prevStatus = ord.Status
	}

	result := order.CanTransition(prevStatus, models.OrderStatusPriceAccepted, dc.Role, false)
	if !result.Allowed {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": result.Reason})
	}

	var orderID uuid.UUID
	if ord == nil {
		orderID = uuid.New()
		_, err = tx.Exec(ctx, `
            INSERT INTO orders (id, thread_id, listing_id, buyer_id, seller_id, status, accepted_price, is_swap, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
        `, orderID, threadUUID, dc.Listing.ID, dc.BuyerID, dc.SellerID, models.OrderStatusPriceAccepted, price, isSwap, now)
	} else {
		orderID = ord.ID
		_, err = tx.Exec(ctx, `
            UPDATE orders
            SET status = $1, accepted_price = $2, is_swap = $3, updated_at = $4
            WHERE id = $5
        `, models.OrderStatusPriceAccepted, price, isSwap, now, orderID)
	}
	if err != nil {
		log.Printf("Ошибка сохранения заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения заказа"})
	}

	if err = syncListingStatus(ctx, tx, dc.Listing.ID, models.OrderStatusPriceAccepted, prevStatus, now); err != nil {
		log.Printf("Ошибка обновления статуса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления объявления"})
	}

	err = appendThreadMessage(ctx, tx, threadUUID, userUUID, models.MessageTypeOrderStatus, confirmText, map[string]interface{}{
		"order_id": orderID.String(),
		"status":   models.OrderStatusPriceAccepted,
	}, now)
	if err != nil {
		log.Printf("Ошибка записи сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка записи в переписку"})
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	cache.InvalidateThreadViews(ctx, threadUUID, dc.Thread.UserLow, dc.Thread.UserHigh)
	cache.InvalidateListingViews(ctx, dc.Listing.ID)

	return c.JSON(fiber.Map{
		"order_id": orderID,
		"status":   models.OrderStatusPriceAccepted,
		"is_swap":  isSwap,
		"price":    price,
		"success":  true,
	})
}

// AcceptPriceOffer подтверждает ценовое предложение покупателя
func (s *DealService) AcceptPriceOffer(c fiber.Ctx) error {
	return s.acceptOffer(c, models.MessageTypeOfferPrice)
}

// AcceptSwapOffer подтверждает предложение обмена
func (s *DealService) AcceptSwapOffer(c fiber.Ctx) error {
	return s.acceptOffer(c, models.MessageTypeOfferSwap)
}

// SubmitShippingAddress принимает адрес доставки от покупателя
func (s *DealService) SubmitShippingAddress(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	threadID := c.Params("threadID")

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	threadUUID, err := uuid.Parse(threadID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID треда"})
	}

	var requestData struct {
		Address       models.ShippingAddress `json:"address"`
		SaveAsDefault bool                   `json:"save_as_default"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if reason := validateShippingAddress(&requestData.Address); reason != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": reason})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	dc, status, errMsg := resolveDealContext(ctx, threadUUID, userUUID)
	if dc == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	ord, err := loadOrderForUpdate(ctx, tx, threadUUID)
	if err != nil {
		log.Printf("Ошибка запроса заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения заказа"})
	}
	if ord == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "По этой переписке еще нет заказа"})
	}

	result := order.CanTransition(ord.Status, models.OrderStatusAddressProvided, dc.Role, true)
	if !result.Allowed {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": result.Reason})
	}

	addressJSON, err := json.Marshal(requestData.Address)
	if err != nil {
		log.Printf("Ошибка сериализации адреса: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обработки адреса"})
	}

	_, err = tx.Exec(ctx, `
        UPDATE orders
        SET status = $1, shipping_address = $2, updated_at = $3
        WHERE id = $4
    `, models.OrderStatusAddressProvided, addressJSON, now, ord.ID)
	if err != nil {
		log.Printf("Ошибка сохранения заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения заказа"})
	}

	if requestData.SaveAsDefault {
		_, err = tx.Exec(ctx, `
            UPDATE users SET default_shipping_address = $1, updated_at = $2 WHERE id = $3
        `, addressJSON, now, userUUID)
		if err != nil {
			log.Printf("Ошибка сохранения адреса по умолчанию: %v", err)
			// Не прерываем сделку из-за настройки профиля
		}
	}

	if err = syncListingStatus(ctx, tx, dc.Listing.ID, models.OrderStatusAddressProvided, ord.Status, now); err != nil {
		log.Printf("Ошибка обновления статуса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления объявления"})
	}

	statusMeta := map[string]interface{}{
		"order_id": ord.ID.String(),
		"status":   models.OrderStatusAddressProvided,
	}
	if err = appendThreadMessage(ctx, tx, threadUUID, userUUID, models.MessageTypeOrderStatus, "Адрес доставки получен", statusMeta, now); err != nil {
		log.Printf("Ошибка записи сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка записи в переписку"})
	}

	// Адрес раскрывается продавцу отдельным системным сообщением
	if err = appendThreadMessage(ctx, tx, threadUUID, userUUID, models.MessageTypeSystem, "Адрес доставки: "+formatAddressLine(&requestData.Address), nil, now.Add(time.Millisecond)); err != nil {
		log.Printf("Ошибка записи сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка записи в переписку"})
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	cache.InvalidateThreadViews(ctx, threadUUID, dc.Thread.UserLow, dc.Thread.UserHigh)
	cache.InvalidateListingViews(ctx, dc.Listing.ID)

	return c.JSON(fiber.Map{
		"order_id": ord.ID,
		"status":   models.OrderStatusAddressProvided,
		"success":  true,
	})
}

// MarkShipped отмечает заказ отправленным
func (s *DealService) MarkShipped(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	threadID := c.Params("threadID")

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	threadUUID, err := uuid.Parse(threadID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID треда"})
	}

	var requestData struct {
		TrackingNumber string `json:"tracking_number"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	tracking := requestData.TrackingNumber
	if msg := validateTrackingNumber(tracking); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	dc, status, errMsg := resolveDealContext(ctx, threadUUID, userUUID)
	if dc == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	ord, err := loadOrderForUpdate(ctx, tx, threadUUID)
	if err != nil {
		log.Printf("Ошибка запроса заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения заказа"})
	}
	if ord == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "По этой переписке еще нет заказа"})
	}

	result := order.CanTransition(ord.Status, models.OrderStatusShipped, dc.Role, ord.ShippingAddress != nil)
	if !result.Allowed {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": result.Reason})
	}

	var trackingPtr *string
	if tracking != "" {
		trackingPtr = &tracking
	}

	_, err = tx.Exec(ctx, `
        UPDATE orders
        SET status = $1, tracking_number = $2, updated_at = $3
        WHERE id = $4
    `, models.OrderStatusShipped, trackingPtr, now, ord.ID)
	if err != nil {
		log.Printf("Ошибка сохранения заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения заказа"})
	}

	if err = syncListingStatus(ctx, tx, dc.Listing.ID, models.OrderStatusShipped, ord.Status, now); err != nil {
		log.Printf("Ошибка обновления статуса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления объявления"})
	}

	err = appendThreadMessage(ctx, tx, threadUUID, userUUID, models.MessageTypeOrderStatus, "Заказ отправлен", map[string]interface{}{
		"order_id": ord.ID.String(),
		"status":   models.OrderStatusShipped,
	}, now)
	if err != nil {
		log.Printf("Ошибка записи сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка записи в переписку"})
	}

	if tracking != "" {
		if err = appendThreadMessage(ctx, tx, threadUUID, userUUID, models.MessageTypeSystem, "Трек-номер: "+tracking, nil, now.Add(time.Millisecond)); err != nil {
			log.Printf("Ошибка записи сообщения: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка записи в переписку"})
		}
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	cache.InvalidateThreadViews(ctx, threadUUID, dc.Thread.UserLow, dc.Thread.UserHigh)
	cache.InvalidateListingViews(ctx, dc.Listing.ID)

	return c.JSON(fiber.Map{
		"order_id": ord.ID,
		"status":   models.OrderStatusShipped,
		"success":  true,
	})
}

// MarkDelivered подтверждает получение заказа покупателем
func (s *DealService) MarkDelivered(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	threadID := c.Params("threadID")

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

	dc, status, errMsg := resolveDealContext(ctx, threadUUID, userUUID)
	if dc == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	ord, err := loadOrderForUpdate(ctx, tx, threadUUID)
	if err != nil {
		log.Printf("Ошибка запроса заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения заказа"})
	}
	if ord == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "По этой переписке еще нет заказа"})
	}

	result := order.CanTransition(ord.Status, models.OrderStatusDelivered, dc.Role, ord.ShippingAddress != nil)
	if !result.Allowed {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": result.Reason})
	}

	_, err = tx.Exec(ctx, `
        UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3
    `, models.OrderStatusDelivered, now, ord.ID)
	if err != nil {
		log.Printf("Ошибка сохранения заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения заказа"})
	}

	if err = syncListingStatus(ctx, tx, dc.Listing.ID, models.OrderStatusDelivered, ord.Status, now); err != nil {
		log.Printf("Ошибка обновления статуса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления объявления"})
	}

	if threadDeliveredAtSupported(ctx) {
		_, err = tx.Exec(ctx, `
            UPDATE threads SET order_delivered_at = $1 WHERE id = $2 AND order_delivered_at IS NULL
        `, now, threadUUID)
		if err != nil {
			log.Printf("Ошибка отметки доставки в треде: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления переписки"})
		}
	}

	err = appendThreadMessage(ctx, tx, threadUUID, userUUID, models.MessageTypeOrderStatus, "Заказ доставлен", map[string]interface{}{
		"order_id": ord.ID.String(),
		"status":   models.OrderStatusDelivered,
	}, now)
	if err != nil {
		log.Printf("Ошибка записи сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка записи в переписку"})
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	cache.InvalidateThreadViews(ctx, threadUUID, dc.Thread.UserLow, dc.Thread.UserHigh)
	cache.InvalidateListingViews(ctx, dc.Listing.ID)

	return c.JSON(fiber.Map{
		"order_id": ord.ID,
		"status":   models.OrderStatusDelivered,
		"success":  true,
	})
}

// CancelOrder отменяет заказ. Доступно обеим сторонам до доставки.
func (s *DealService) CancelOrder(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	threadID := c.Params("threadID")

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

	dc, status, errMsg := resolveDealContext(ctx, threadUUID, userUUID)
	if dc == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	ord, err := loadOrderForUpdate(ctx, tx, threadUUID)
	if err != nil {
		log.Printf("Ошибка запроса заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения заказа"})
	}
	if ord == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "По этой переписке еще нет заказа"})
	}

	result := order.CanTransition(ord.Status, models.OrderStatusCancelled, dc.Role, ord.ShippingAddress != nil)
	if !result.Allowed {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": result.Reason})
	}

	_, err = tx.Exec(ctx, `
        UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3
    `, models.OrderStatusCancelled, now, ord.ID)
	if err != nil {
		log.Printf("Ошибка сохранения заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения заказа"})
	}

	if err = syncListingStatus(ctx, tx, dc.Listing.ID, models.OrderStatusCancelled, ord.Status, now); err != nil {
		log.Printf("Ошибка обновления статуса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления объявления"})
	}

	err = appendThreadMessage(ctx, tx, threadUUID, userUUID, models.MessageTypeOrderStatus, "Заказ отменён", map[string]interface{}{
		"order_id": ord.ID.String(),
		"status":   models.OrderStatusCancelled,
	}, now)
	if err != nil {
		log.Printf("Ошибка записи сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка записи в переписку"})
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	cache.InvalidateThreadViews(ctx, threadUUID, dc.Thread.UserLow, dc.Thread.UserHigh)
	cache.InvalidateListingViews(ctx, dc.Listing.ID)

	return c.JSON(fiber.Map{
		"order_id": ord.ID,
		"status":   models.OrderStatusCancelled,
		"success":  true,
	})
}

// ConfirmDeal фиксирует подтверждение сделки участником. Доступно в
// треде любого контекста; в треде по объявлению дату подтверждения
// выставляет только продавец, в остальных — любой участник. Повторное
// подтверждение безвредно: строка на (тред, пользователь) одна.
func (s *DealService) ConfirmDeal(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	threadID := c.Params("threadID")

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

	var t models.Thread
	err = db.Pool.QueryRow(ctx, `
        SELECT id, context_type, context_id, user_low, user_high, deal_confirmed_at
        FROM threads
        WHERE id = $1
    `, threadUUID).Scan(
		&t.ID,
		&t.ContextType,
		&t.ContextID,
		&t.UserLow,
		&t.UserHigh,
		&t.DealConfirmedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Переписка не найдена"})
		}
		log.Printf("Ошибка запроса треда: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения переписки"})
	}

	if !t.HasParticipant(userUUID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "У вас нет доступа к этой переписке"})
	}

	canFlip := true
	confirmText := "Сделка подтверждена"
	if t.ContextType == models.ThreadContextListing && t.ContextID != nil {
		var sellerID uuid.UUID
		err = db.Pool.QueryRow(ctx, `SELECT user_id FROM listings WHERE id = $1`, *t.ContextID).Scan(&sellerID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Объявление не найдено"})
			}
			log.Printf("Ошибка запроса объявления: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения объявления"})
		}
		canFlip = userUUID == sellerID
		confirmText = "Продавец подтвердил сделку"
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	tag, err := tx.Exec(ctx, `
        INSERT INTO thread_deal_confirmations (thread_id, user_id, confirmed_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (thread_id, user_id) DO NOTHING
    `, threadUUID, userUUID, now)
	if err != nil {
		log.Printf("Ошибка сохранения подтверждения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения подтверждения"})
	}
	alreadyConfirmed := tag.RowsAffected() == 0

	// Отметка покупателя в треде по объявлению сохраняется, но дату не
	// выставляет. Закрытие аукциона ставит обе отметки и дату
	// самостоятельно.
	dealConfirmed := t.DealConfirmedAt != nil
	if canFlip {
		// Выставляется один раз, повторные подтверждения дату не двигают
		tag, err = tx.Exec(ctx, `
            UPDATE threads SET deal_confirmed_at = $1, updated_at = $1
            WHERE id = $2 AND deal_confirmed_at IS NULL
        `, now, threadUUID)
		if err != nil {
			log.Printf("Ошибка фиксации сделки: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка фиксации сделки"})
		}
		dealConfirmed = true

		if tag.RowsAffected() > 0 {
			if err = appendThreadMessage(ctx, tx, threadUUID, userUUID, models.MessageTypeSystem, confirmText, nil, now); err != nil {
				log.Printf("Ошибка записи сообщения: %v", err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка записи в переписку"})
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	cache.InvalidateThreadViews(ctx, threadUUID, t.UserLow, t.UserHigh)

	return c.JSON(fiber.Map{
		"already_confirmed": alreadyConfirmed,
		"deal_confirmed":    dealConfirmed,
		"success":           true,
	})
}

// GetOrder возвращает текущее состояние заказа треда
func (s *DealService) GetOrder(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	threadID := c.Params("threadID")

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

	dc, status, errMsg := resolveDealContext(ctx, threadUUID, userUUID)
	if dc == nil {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	var o models.Order
	err = db.Pool.QueryRow(ctx, `
        SELECT id, thread_id, listing_id, buyer_id, seller_id, status,
               accepted_price, is_swap, shipping_address, tracking_number,
               created_at, updated_at
        FROM orders
        WHERE thread_id = $1
    `, threadUUID).Scan(
		&o.ID,
		&o.ThreadID,
		&o.ListingID,
		&o.BuyerID,
		&o.SellerID,
		&o.Status,
		&o.AcceptedPrice,
		&o.IsSwap,
		&o.ShippingAddress,
		&o.TrackingNumber,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "По этой переписке еще нет заказа"})
		}
		log.Printf("Ошибка запроса заказа: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения заказа"})
	}

	return c.JSON(fiber.Map{
		"order": o,
		"role":  dc.Role,
	})
}
