// Package printorder реализует расчёт стоимости печатного заказа: распределение итоговой
// суммы между печатью и доставкой и мастер оформления заказа.
package printorder

import (
	"fmt"
	"math"

	"github.com/mmeshcher/storybook-companion/internal/model"
)

// Apportionment описывает итоговую сумму, распределённую по категориям отображения.
type Apportionment struct {
	Printing float64 `json:"printing"`
	Shipping float64 `json:"shipping"`
}

// Apportion распределяет итоговую сумму finalTotal между печатью и доставкой
// пропорционально детализированным базовым стоимостям. Если базовые стоимости
// нулевые, обе категории равны нулю.
func Apportion(baseLineItems, baseFulfillment, baseShipping, finalTotal float64) Apportionment {
	basePrinting := baseLineItems + baseFulfillment
	totalBase := basePrinting + baseShipping

	if !(totalBase > 0) || math.IsInf(totalBase, 0) {
		return Apportionment{}
	}

	printingRatio := basePrinting / totalBase
	shippingRatio := baseShipping / totalBase

	return Apportionment{
		Printing: finalTotal * printingRatio,
		Shipping: finalTotal * shippingRatio,
	}
}

// ApportionBreakdown распределяет finalTotal по детализации от сервиса фулфилмента.
func ApportionBreakdown(b model.CostBreakdown, finalTotal float64) Apportionment {
	return Apportion(b.LineItemsCost(), b.Fulfillment.TotalCostInclTax, b.Shipping.TotalCostInclTax, finalTotal)
}

// Scale умножает обе категории на коэффициент пересчёта валюты.
func (a Apportionment) Scale(multiplier float64) Apportionment {
	return Apportionment{
		Printing: a.Printing * multiplier,
		Shipping: a.Shipping * multiplier,
	}
}

// Total возвращает сумму категорий.
func (a Apportionment) Total() float64 {
	return a.Printing + a.Shipping
}

// FormatMoney округляет сумму до двух знаков только для отображения.
func FormatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", v)
}
