package deal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rajivgeraev/plantswap-api/internal/models"
)

func TestExtractOfferAmount(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]interface{}
		text     string
		want     float64
		ok       bool
	}{
		{
			name:     "сумма в metadata.amount",
			metadata: map[string]interface{}{"amount": 15.0},
			text:     "Предлагаю 15",
			want:     15.0,
			ok:       true,
		},
		{
			name:     "amount строкой",
			metadata: map[string]interface{}{"amount": "12.50"},
			want:     12.50,
			ok:       true,
		},
		{
			name:     "старый ключ price",
			metadata: map[string]interface{}{"price": 8.0},
			want:     8.0,
			ok:       true,
		},
		{
			name:     "amount имеет приоритет над price",
			metadata: map[string]interface{}{"amount": 10.0, "price": 99.0},
			want:     10.0,
			ok:       true,
		},
		{
			name: "сумма только в тексте",
			text: " 7.25 ",
			want: 7.25,
			ok:   true,
		},
		{
			name:     "нулевая сумма отвергается",
			metadata: map[string]interface{}{"amount": 0.0},
			ok:       false,
		},
		{
			name:     "отрицательная сумма отвергается",
			metadata: map[string]interface{}{"amount": -5.0},
			ok:       false,
		},
		{
			name: "текст без числа",
			text: "давай меняться",
			ok:   false,
		},
		{
			name: "пусто",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractOfferAmount(tt.metadata, tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestValidateShippingAddress(t *testing.T) {
	valid := func() models.ShippingAddress {
		return models.ShippingAddress{
			Name:    "Анна Иванова",
			Street:  "ул. Садовая, 5",
			City:    "Берлин",
			Zip:     "10115",
			Country: "Германия",
		}
	}

	t.Run("валидный адрес без телефона", func(t *testing.T) {
		addr := valid()
		assert.Empty(t, validateShippingAddress(&addr))
	})

	t.Run("пробельные поля считаются пустыми", func(t *testing.T) {
		addr := valid()
		addr.City = "   "
		assert.NotEmpty(t, validateShippingAddress(&addr))
	})

	t.Run("поля обрезаются", func(t *testing.T) {
		addr := valid()
		addr.Name = "  Анна Иванова  "
		assert.Empty(t, validateShippingAddress(&addr))
		assert.Equal(t, "Анна Иванова", addr.Name)
	})

	fields := []struct {
		name   string
		mutate func(*models.ShippingAddress)
	}{
		{"без имени", func(a *models.ShippingAddress) { a.Name = "" }},
		{"без улицы", func(a *models.ShippingAddress) { a.Street = "" }},
		{"без города", func(a *models.ShippingAddress) { a.City = "" }},
		{"без индекса", func(a *models.ShippingAddress) { a.Zip = "" }},
		{"без страны", func(a *models.ShippingAddress) { a.Country = "" }},
	}
	for _, f := range fields {
		t.Run(f.name, func(t *testing.T) {
			addr := valid()
			f.mutate(&addr)
			assert.NotEmpty(t, validateShippingAddress(&addr))
		})
	}
}

func TestValidateTrackingNumber(t *testing.T) {
	t.Run("пустой номер допустим", func(t *testing.T) {
		assert.Empty(t, validateTrackingNumber(""))
	})

	t.Run("ровно 120 символов проходит", func(t *testing.T) {
		assert.Empty(t, validateTrackingNumber(strings.Repeat("A", 120)))
	})

	t.Run("121 символ отвергается", func(t *testing.T) {
		assert.NotEmpty(t, validateTrackingNumber(strings.Repeat("A", 121)))
	})

	t.Run("считаются символы, а не байты", func(t *testing.T) {
		// 120 кириллических букв — 240 байт
		assert.Empty(t, validateTrackingNumber(strings.Repeat("Ш", 120)))
	})
}

func TestFormatAddressLine(t *testing.T) {
	addr := models.ShippingAddress{
		Name:    "Анна Иванова",
		Street:  "ул. Садовая, 5",
		City:    "Берлин",
		Zip:     "10115",
		Country: "Германия",
	}
	assert.Equal(t, "Анна Иванова, ул. Садовая, 5, 10115 Берлин, Германия", formatAddressLine(&addr))

	addr.Phone = "+49 111 222"
	assert.Equal(t, "Анна Иванова, ул. Садовая, 5, 10115 Берлин, Германия, +49 111 222", formatAddressLine(&addr))
}
