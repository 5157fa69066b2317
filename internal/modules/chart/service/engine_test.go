package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"chart_feed/internal/models"
	healthsvc "chart_feed/internal/modules/health/service"
	streamsvc "chart_feed/internal/modules/stream/service"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	mu     sync.Mutex
	series models.CandleSeries
	price  decimal.Decimal
	err    error
	calls  int
}

func (f *fakeHistory) Fetch(_ context.Context, _ string, _ models.Timeframe) (models.CandleSeries, decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, decimal.Decimal{}, f.err
	}
	return f.series.Clone(), f.price, nil
}

func (f *fakeHistory) set(series models.CandleSeries, price decimal.Decimal, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series, f.price, f.err = series, price, err
}

func (f *fakeHistory) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type watchCall struct {
	address string
	enabled bool
}

type fakeTicks struct {
	mu      sync.Mutex
	updates chan struct{}
	snap    streamsvc.TickSnapshot
	watched []watchCall
}

func newFakeTicks() *fakeTicks {
	return &fakeTicks{updates: make(chan struct{}, 16)}
}

func (f *fakeTicks) Watch(address string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, watchCall{address, enabled})
	if !enabled {
		f.snap = streamsvc.TickSnapshot{}
	}
}

func (f *fakeTicks) Snapshot() streamsvc.TickSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeTicks) Updates() <-chan struct{} { return f.updates }

func (f *fakeTicks) push(tick models.Candle, price decimal.Decimal) {
	f.mu.Lock()
	f.snap = streamsvc.TickSnapshot{Tick: &tick, Price: price, State: models.ConnConnected}
	f.mu.Unlock()
	f.updates <- struct{}{}
}

func (f *fakeTicks) lastWatch() (watchCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.watched) == 0 {
		return watchCall{}, false
	}
	return f.watched[len(f.watched)-1], true
}

func startEngine(t *testing.T, fh *fakeHistory, ft *fakeTicks) *Engine {
	t.Helper()
	e := newEngine(fh, ft, healthsvc.NewState())
	e.refetchEvery = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Start(ctx)
	e.SetActive(true)
	return e
}

func TestEngineLiveSeedThenTicks(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(models.CandleSeries{{Timestamp: 100, Close: 1.5}, {Timestamp: 90, Close: 1.4}},
		decimal.RequireFromString("1.5"), nil)
	ft := newFakeTicks()
	e := startEngine(t, fh, ft)

	e.Watch("addr", models.TimeframeLive)
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Series) == 2
	}, time.Second, time.Millisecond)

	w, ok := ft.lastWatch()
	require.True(t, ok)
	assert.Equal(t, watchCall{"addr", true}, w)

	// тик дорисовывает текущую свечу
	ft.push(models.Candle{Timestamp: 100, Close: 1.7}, decimal.RequireFromString("1.7"))
	require.Eventually(t, func() bool {
		s := e.Snapshot()
		return len(s.Series) == 2 && s.Series[0].Close == 1.7
	}, time.Second, time.Millisecond)

	// новый период — prepend
	ft.push(models.Candle{Timestamp: 110, Close: 1.8}, decimal.RequireFromString("1.8"))
	require.Eventually(t, func() bool {
		s := e.Snapshot()
		return len(s.Series) == 3 && s.Series[0].Timestamp == 110
	}, time.Second, time.Millisecond)

	snap := e.Snapshot()
	assert.True(t, snap.Price.Equal(decimal.RequireFromString("1.8")))
	assert.True(t, snap.Series.SortedDesc())
}

func TestEngineLiveSeedFoldsAcrossPeriods(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(models.CandleSeries{{Timestamp: 100}}, decimal.Decimal{}, nil)
	ft := newFakeTicks()
	e := startEngine(t, fh, ft)

	e.Watch("addr", models.TimeframeLive)
	require.Eventually(t, func() bool { return len(e.Snapshot().Series) == 1 }, time.Second, time.Millisecond)

	// несколько периодов подряд — промежуточные свечи не теряются
	for ts := 101; ts <= 105; ts++ {
		ft.push(models.Candle{Timestamp: float64(ts)}, decimal.New(1, 0))
	}
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Series) == 6
	}, time.Second, time.Millisecond)
	assert.True(t, e.Snapshot().Series.SortedDesc())
}

func TestEngineNonLiveWindowAndPrice(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(models.CandleSeries{
		{Timestamp: 1000000, Close: 2},
		{Timestamp: 950000, Close: 1.9},
		{Timestamp: 913599, Close: 1.8}, // за пределами окна 1d
	}, decimal.RequireFromString("2.05"), nil)
	ft := newFakeTicks()
	e := startEngine(t, fh, ft)

	e.Watch("addr", models.Timeframe1D)
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Series) == 2
	}, time.Second, time.Millisecond)

	snap := e.Snapshot()
	assert.True(t, snap.Price.Equal(decimal.RequireFromString("2.05")), "цена из истории, тика нет")

	w, ok := ft.lastWatch()
	require.True(t, ok)
	assert.False(t, w.enabled, "не-live таймфрейм не должен включать стрим")
}

func TestEngineStaleWhileRevalidate(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(models.CandleSeries{{Timestamp: 1000, Close: 2}}, decimal.RequireFromString("2"), nil)
	ft := newFakeTicks()
	e := startEngine(t, fh, ft)

	e.Watch("addr", models.Timeframe1D)
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Series) == 1
	}, time.Second, time.Millisecond)

	// следующий фетч падает — старая серия остаётся видимой
	fh.set(nil, decimal.Decimal{}, errors.New("boom"))
	e.Watch("addr", models.Timeframe1W)
	require.Eventually(t, func() bool {
		return e.Snapshot().Err != ""
	}, time.Second, time.Millisecond)

	snap := e.Snapshot()
	assert.Len(t, snap.Series, 1, "данные не чистим до успешного фетча")
	assert.False(t, snap.Loading)
}

func TestEngineKeepsSeriesOnNonLiveToLiveSwitch(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(models.CandleSeries{{Timestamp: 1000, Close: 2}}, decimal.RequireFromString("2"), nil)
	ft := newFakeTicks()
	e := startEngine(t, fh, ft)

	e.Watch("addr", models.Timeframe1D)
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Series) == 1
	}, time.Second, time.Millisecond)

	// live-семя не доехало — оконная серия остаётся на экране
	fh.set(nil, decimal.Decimal{}, errors.New("boom"))
	e.Watch("addr", models.TimeframeLive)
	require.Eventually(t, func() bool {
		return e.Snapshot().Err != ""
	}, time.Second, time.Millisecond)

	snap := e.Snapshot()
	require.Len(t, snap.Series, 1, "смена таймфрейма не чистит серию до нового источника")
	assert.Equal(t, models.TimeframeLive, snap.Timeframe)
	assert.True(t, snap.Price.Equal(decimal.RequireFromString("2")))
}

func TestEngineKeepsSeriesOnLiveToNonLiveSwitch(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(models.CandleSeries{{Timestamp: 100, Close: 1.5}}, decimal.RequireFromString("1.5"), nil)
	ft := newFakeTicks()
	e := startEngine(t, fh, ft)

	e.Watch("addr", models.TimeframeLive)
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Series) == 1
	}, time.Second, time.Millisecond)

	fh.set(nil, decimal.Decimal{}, errors.New("boom"))
	e.Watch("addr", models.Timeframe1D)
	require.Eventually(t, func() bool {
		return e.Snapshot().Err != ""
	}, time.Second, time.Millisecond)

	snap := e.Snapshot()
	require.Len(t, snap.Series, 1, "live-семя видно, пока история не доехала")
	assert.Equal(t, models.Timeframe1D, snap.Timeframe)
}

func TestEngineStaleTickDroppedAndCounted(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(models.CandleSeries{{Timestamp: 100, Close: 1.5}}, decimal.RequireFromString("1.5"), nil)
	ft := newFakeTicks()
	st := healthsvc.NewState()
	e := newEngine(fh, ft, st)
	e.refetchEvery = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Start(ctx)
	e.SetActive(true)

	e.Watch("addr", models.TimeframeLive)
	require.Eventually(t, func() bool { return len(e.Snapshot().Series) == 1 }, time.Second, time.Millisecond)

	ft.push(models.Candle{Timestamp: 80, Close: 9}, decimal.RequireFromString("9"))
	require.Eventually(t, func() bool {
		return st.StaleTicks() == 1
	}, time.Second, time.Millisecond)

	snap := e.Snapshot()
	require.Len(t, snap.Series, 1)
	assert.Equal(t, 100.0, snap.Series[0].Timestamp, "устаревший тик не попадает в серию")
}

func TestEngineInactiveStopsRefetch(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(models.CandleSeries{{Timestamp: 1000}}, decimal.Decimal{}, nil)
	ft := newFakeTicks()
	e := startEngine(t, fh, ft)

	e.Watch("addr", models.Timeframe1D)
	require.Eventually(t, func() bool { return fh.fetchCalls() >= 1 }, time.Second, time.Millisecond)

	e.SetActive(false)
	time.Sleep(30 * time.Millisecond) // дать команде примениться
	base := fh.fetchCalls()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, base, fh.fetchCalls(), "в неактивном состоянии рефетчей нет")

	e.SetActive(true)
	require.Eventually(t, func() bool {
		return fh.fetchCalls() > base
	}, time.Second, time.Millisecond)
}

func TestEngineRefetchCommand(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(models.CandleSeries{{Timestamp: 100}}, decimal.Decimal{}, nil)
	ft := newFakeTicks()
	e := newEngine(fh, ft, healthsvc.NewState())
	e.refetchEvery = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Start(ctx)
	e.SetActive(true)

	e.Watch("addr", models.TimeframeLive)
	require.Eventually(t, func() bool { return fh.fetchCalls() == 1 }, time.Second, time.Millisecond)

	e.Refetch()
	require.Eventually(t, func() bool { return fh.fetchCalls() == 2 }, time.Second, time.Millisecond)
}

func TestEngineEmptyHistoryIsNotAnError(t *testing.T) {
	fh := &fakeHistory{}
	fh.set(nil, decimal.Decimal{}, nil)
	ft := newFakeTicks()
	e := startEngine(t, fh, ft)

	e.Watch("addr", models.Timeframe1D)
	require.Eventually(t, func() bool { return fh.fetchCalls() >= 1 }, time.Second, time.Millisecond)

	snap := e.Snapshot()
	assert.Empty(t, snap.Series)
	assert.True(t, snap.Price.IsZero())
	assert.Empty(t, snap.Err)
}
