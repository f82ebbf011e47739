package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы контекста треда
const (
	ThreadContextListing = "listing" // переговоры по объявлению
	ThreadContextWanted  = "wanted"  // отклик на запрос «ищу растение»
	ThreadContextDirect  = "direct"  // личная переписка без привязки
)

// ThreadContext — контекст переговорного треда. Каждый вариант несёт
// собственный идентификатор, вместо пары nullable-колонок в коде.
type ThreadContext interface {
	ContextType() string
	ContextID() *uuid.UUID
}

// ListingThread — тред по конкретному объявлению
type ListingThread struct {
	ListingID uuid.UUID
}

func (c ListingThread) ContextType() string { return ThreadContextListing }
func (c ListingThread) ContextID() *uuid.UUID { return &c.ListingID }

// WantedThread — тред по запросу «ищу растение»
type WantedThread struct {
	WantedID uuid.UUID
}

func (c WantedThread) ContextType() string { return ThreadContextWanted }
func (c WantedThread) ContextID() *uuid.UUID { return &c.WantedID }

// DirectThread — личная переписка
type DirectThread struct{}

func (c DirectThread) ContextType() string { return ThreadContextDirect }
func (c DirectThread) ContextID() *uuid.UUID { return nil }

// ParseThreadContext восстанавливает контекст из колонок context_type/context_id
func ParseThreadContext(contextType string, contextID *uuid.UUID) (ThreadContext, error) {
	switch contextType {
	case ThreadContextListing:
		if contextID == nil {
			return nil, fmt.Errorf("контекст listing без context_id")
		}
		return ListingThread{ListingID: *contextID}, nil
	case ThreadContextWanted:
		if contextID == nil {
			return nil, fmt.Errorf("контекст wanted без context_id")
		}
		return WantedThread{WantedID: *contextID}, nil
	case ThreadContextDirect:
		return DirectThread{}, nil
	}
	return nil, fmt.Errorf("неизвестный тип контекста: %s", contextType)
}

// CanonicalPair возвращает пару идентификаторов в каноническом порядке
// (лексикографически меньший первым). Все пути создания и поиска тредов
// обязаны использовать этот порядок, чтобы на (контекст, пара) существовал
// максимум один тред.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() <= b.String() {
		return a, b
	}
	return b, a
}

// Thread представляет канонический тред переговоров между двумя
// пользователями. UserLow/UserHigh хранятся в порядке CanonicalPair.
// deal_confirmed_at и order_delivered_at выставляются один раз и
// никогда не откатываются.
type Thread struct {
	ID               uuid.UUID  `json:"id"`
	ContextType      string     `json:"context_type"`
	ContextID        *uuid.UUID `json:"context_id,omitempty"`
	UserLow          uuid.UUID  `json:"user_low"`
	UserHigh         uuid.UUID  `json:"user_high"`
	DealConfirmedAt  *time.Time `json:"deal_confirmed_at,omitempty"`
	OrderDeliveredAt *time.Time `json:"order_delivered_at,omitempty"`
	LastMessageText  string     `json:"last_message_text,omitempty"`
	LastMessageTime  *time.Time `json:"last_message_time,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	// Дополнительные поля для API
	Companion   *User    `json:"companion,omitempty"`
	Listing     *Listing `json:"listing,omitempty"`
	UnreadCount int      `json:"unread_count,omitempty"`
}

// HasParticipant проверяет, является ли пользователь участником треда
func (t *Thread) HasParticipant(userID uuid.UUID) bool {
	return t.UserLow == userID || t.UserHigh == userID
}

// OtherParticipant возвращает второго участника треда
func (t *Thread) OtherParticipant(userID uuid.UUID) uuid.UUID {
	if t.UserLow == userID {
		return t.UserHigh
	}
	return t.UserLow
}

// DealConfirmation — отметка «сделка подтверждена» от одного участника.
// Одна строка на (тред, пользователь); наличие строки и есть состояние.
type DealConfirmation struct {
	ThreadID    uuid.UUID `json:"thread_id"`
	UserID      uuid.UUID `json:"user_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
