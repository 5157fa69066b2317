package service

import "chart_feed/internal/models"

// maxLiveCandles — скользящее окно live-серии: старые свечи выпадают первыми.
const maxLiveCandles = 60

// Merge склеивает историческое семя h (от новых к старым) с последним живым
// тиком t. Чистая функция: никакого собственного состояния, на одинаковых
// входах — одинаковый результат.
//
// Равный timestamp — тик дорисовывает текущую свечу (замена головы);
// больший — открылся новый период (prepend + обрезка до 60);
// меньший — устаревший тик, отбрасываем (второй результат true).
func Merge(h models.CandleSeries, t *models.Candle) (models.CandleSeries, bool) {
	if t == nil {
		return h, false
	}
	if len(h) == 0 {
		return models.CandleSeries{*t}, false
	}
	switch {
	case t.Timestamp == h[0].Timestamp:
		out := h.Clone()
		out[0] = *t
		return out, false
	case t.Timestamp > h[0].Timestamp:
		out := make(models.CandleSeries, 0, len(h)+1)
		out = append(out, *t)
		out = append(out, h...)
		if len(out) > maxLiveCandles {
			out = out[:maxLiveCandles]
		}
		return out, false
	default:
		// реконнект мог обогнать рефетч истории — тик старее головы
		return h, true
	}
}
