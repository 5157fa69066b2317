package service

import "chart_feed/internal/models"

// Window отрезает от серии (новые впереди, уже отсортирована — контракт
// держит history-клиент) хвост старше lookback-окна таймфрейма.
// Серия монотонна, поэтому после первого непрошедшего элемента дальше
// можно не смотреть. Неизвестный таймфрейм — без обрезки.
func Window(series models.CandleSeries, tf models.Timeframe) models.CandleSeries {
	lb := tf.LookbackSec()
	if lb <= 0 || len(series) == 0 {
		return series
	}
	cutoff := series[0].Timestamp - float64(lb)
	for i := range series {
		if series[i].Timestamp < cutoff {
			return series[:i]
		}
	}
	return series
}
