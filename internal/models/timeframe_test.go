package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeframeLookback(t *testing.T) {
	want := map[Timeframe]int64{
		TimeframeLive: 3600,
		Timeframe4H:   14400,
		Timeframe1D:   86400,
		Timeframe1W:   604800,
		Timeframe1M:   2592000,
		Timeframe3M:   7776000,
		Timeframe1Y:   31536000,
	}
	for tf, sec := range want {
		assert.Equal(t, sec, tf.LookbackSec(), string(tf))
	}
	assert.Equal(t, int64(0), Timeframe("2h").LookbackSec())
}

func TestTimeframeIsLive(t *testing.T) {
	assert.True(t, TimeframeLive.IsLive())
	assert.False(t, Timeframe1D.IsLive())
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("  LIVE ")
	require.NoError(t, err)
	assert.Equal(t, TimeframeLive, tf)

	tf, err = ParseTimeframe("1d")
	require.NoError(t, err)
	assert.Equal(t, Timeframe1D, tf)

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
	_, err = ParseTimeframe("")
	assert.Error(t, err)
}

func TestTimeframesSorted(t *testing.T) {
	keys := Timeframes()
	assert.Len(t, keys, 7)
	assert.Contains(t, keys, "live")
}
