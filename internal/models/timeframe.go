package models

import (
	"fmt"
	"sort"
	"strings"
)

// Timeframe — выбранное окно графика. "live" — единственный таймфрейм,
// который включает стриминг; остальные живут на периодическом REST-снапшоте.
type Timeframe string

const (
	TimeframeLive Timeframe = "live"
	Timeframe4H   Timeframe = "4h"
	Timeframe1D   Timeframe = "1d"
	Timeframe1W   Timeframe = "1w"
	Timeframe1M   Timeframe = "1m"
	Timeframe3M   Timeframe = "3m"
	Timeframe1Y   Timeframe = "1y"
)

// lookbackSec — глубина окна в секундах для каждого таймфрейма.
var lookbackSec = map[Timeframe]int64{
	TimeframeLive: 3600,
	Timeframe4H:   14400,
	Timeframe1D:   86400,
	Timeframe1W:   604800,
	Timeframe1M:   2592000,
	Timeframe3M:   7776000,
	Timeframe1Y:   31536000,
}

func (tf Timeframe) IsLive() bool { return tf == TimeframeLive }

// LookbackSec — 0 для неизвестного таймфрейма (окно не режем).
func (tf Timeframe) LookbackSec() int64 { return lookbackSec[tf] }

// ParseTimeframe нормализует пользовательский ввод.
func ParseTimeframe(input string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(input)))
	if _, ok := lookbackSec[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe: %q", input)
	}
	return tf, nil
}

// Timeframes — все поддерживаемые ключи (отсортированы).
func Timeframes() []string {
	keys := make([]string, 0, len(lookbackSec))
	for k := range lookbackSec {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}
