package models

import (
	"fmt"
	"math"

	"github.com/bytedance/sonic"
)

// Candle — одна свеча [ts, o, h, l, c, v], ts в секундах.
// На проводе это массив из шести чисел, поэтому кастомный (Un)MarshalJSON.
type Candle struct {
	Timestamp float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// CandleFromRow валидирует сырой массив: ровно 6 полей, все конечные.
// Невалидная строка не сохраняется нигде — отбрасываем целиком.
func CandleFromRow(row []float64) (Candle, error) {
	if len(row) != 6 {
		return Candle{}, fmt.Errorf("candle: want 6 fields, got %d", len(row))
	}
	for i, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Candle{}, fmt.Errorf("candle: field %d is not finite", i)
		}
	}
	return Candle{
		Timestamp: row[0],
		Open:      row[1],
		High:      row[2],
		Low:       row[3],
		Close:     row[4],
		Volume:    row[5],
	}, nil
}

func (c Candle) Row() [6]float64 {
	return [6]float64{c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume}
}

func (c *Candle) UnmarshalJSON(b []byte) error {
	var row []float64
	if err := sonic.Unmarshal(b, &row); err != nil {
		return err
	}
	parsed, err := CandleFromRow(row)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Candle) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(c.Row())
}

// CandleSeries — свечи от новых к старым (убывающий Timestamp).
type CandleSeries []Candle

func (s CandleSeries) Clone() CandleSeries {
	if s == nil {
		return nil
	}
	out := make(CandleSeries, len(s))
	copy(out, s)
	return out
}

// SortedDesc — проверка контракта "новые впереди".
func (s CandleSeries) SortedDesc() bool {
	for i := 1; i < len(s); i++ {
		if s[i].Timestamp > s[i-1].Timestamp {
			return false
		}
	}
	return true
}
