package printorder

import (
	"strings"

	"github.com/mmeshcher/storybook-companion/internal/model"
)

// Currency обозначает валюту отображения стоимости.
type Currency string

const (
	CurrencyGBP Currency = "GBP"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

var euroCountries = map[string]struct{}{
	"AT": {}, "BE": {}, "CY": {}, "DE": {}, "EE": {}, "ES": {}, "FI": {}, "FR": {}, "GR": {}, "HR": {},
	"IE": {}, "IT": {}, "LT": {}, "LU": {}, "LV": {}, "MT": {}, "NL": {}, "PT": {}, "SI": {}, "SK": {},
}

// Rates содержит коэффициенты пересчёта из фунтов в валюту отображения.
type Rates struct {
	GBPToUSD float64
	GBPToEUR float64
}

// ForCountry выбирает валюту и коэффициент по коду страны доставки.
func (r Rates) ForCountry(country string) (Currency, float64) {
	code := strings.ToUpper(strings.TrimSpace(country))
	switch {
	case code == "GB":
		return CurrencyGBP, 1
	case inEurozone(code):
		return CurrencyEUR, r.GBPToEUR
	default:
		return CurrencyUSD, r.GBPToUSD
	}
}

func inEurozone(code string) bool {
	_, ok := euroCountries[code]
	return ok
}

// DisplayCost описывает стоимость заказа в валюте отображения.
type DisplayCost struct {
	Currency Currency      `json:"currency"`
	Total    float64       `json:"total"`
	Split    Apportionment `json:"split"`
}

// Display распределяет авторитетную итоговую сумму и пересчитывает её в валюту страны доставки.
// Итоговая сумма берётся в фунтах; если сервер прислал сумму в долларах, она используется
// для доставки в долларовую зону без пересчёта.
func Display(b model.CostBreakdown, country string, rates Rates) DisplayCost {
	currency, multiplier := rates.ForCountry(country)

	total := b.TotalCostGBP
	if currency == CurrencyUSD && b.TotalCostUSD > 0 {
		total = b.TotalCostUSD
		multiplier = 1
	}

	split := ApportionBreakdown(b, total).Scale(multiplier)

	return DisplayCost{
		Currency: currency,
		Total:    total * multiplier,
		Split:    split,
	}
}
