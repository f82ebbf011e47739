package deal

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rajivgeraev/plantswap-api/internal/models"
)

// maxTrackingLen ограничивает длину трек-номера в символах
const maxTrackingLen = 120

// extractOfferAmount достает сумму из сообщения-предложения. Основной
// источник — metadata["amount"]; metadata["price"] и текст сообщения
// поддерживаются для совместимости со старыми записями, где сумма
// писалась иначе.
func extractOfferAmount(metadata map[string]interface{}, text string) (float64, bool) {
	for _, key := range []string{"amount", "price"} {
		raw, ok := metadata[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			if v > 0 {
				return v, true
			}
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && parsed > 0 {
				return parsed, true
			}
		}
	}

	if parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil && parsed > 0 {
		return parsed, true
	}

	return 0, false
}

// validateShippingAddress проверяет обязательные поля адреса доставки.
// Телефон необязателен. Возвращает текст ошибки или пустую строку.
func validateShippingAddress(addr *models.ShippingAddress) string {
	addr.Name = strings.TrimSpace(addr.Name)
	addr.Street = strings.TrimSpace(addr.Street)
	addr.City = strings.TrimSpace(addr.City)
	addr.Zip = strings.TrimSpace(addr.Zip)
	addr.Country = strings.TrimSpace(addr.Country)
	addr.Phone = strings.TrimSpace(addr.Phone)

	switch {
	case addr.Name == "":
		return "Укажите имя получателя"
	case addr.Street == "":
		return "Укажите улицу и дом"
	case addr.City == "":
		return "Укажите город"
	case addr.Zip == "":
		return "Укажите почтовый индекс"
	case addr.Country == "":
		return "Укажите страну"
	}
	return ""
}

// validateTrackingNumber проверяет длину трек-номера в символах, не
// байтах: кириллический номер не должен резаться вдвое раньше.
// Пустой номер допустим. Возвращает текст ошибки или пустую строку.
func validateTrackingNumber(tracking string) string {
	if utf8.RuneCountInString(tracking) > maxTrackingLen {
		return "Трек-номер слишком длинный"
	}
	return ""
}

// formatAddressLine собирает адрес в одну строку для системного
// сообщения в треде
func formatAddressLine(addr *models.ShippingAddress) string {
	parts := []string{addr.Name, addr.Street, addr.Zip + " " + addr.City, addr.Country}
	if addr.Phone != "" {
		parts = append(parts, addr.Phone)
	}
	return strings.Join(parts, ", ")
}
