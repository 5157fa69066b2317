package service

import (
	"context"
	"log"
	"sync"
	"time"

	"chart_feed/internal/models"
	healthsvc "chart_feed/internal/modules/health/service"
	histsvc "chart_feed/internal/modules/history/service"
	streamsvc "chart_feed/internal/modules/stream/service"

	"github.com/shopspring/decimal"
)

// refetchInterval — период обновления исторического снапшота для не-live
// таймфреймов, пока хост активен.
const refetchInterval = 5 * time.Minute

type HistorySource interface {
	Fetch(ctx context.Context, address string, tf models.Timeframe) (models.CandleSeries, decimal.Decimal, error)
}

type TickSource interface {
	Watch(address string, enabled bool)
	Snapshot() streamsvc.TickSnapshot
	Updates() <-chan struct{}
}

// SeriesSnapshot — итоговая серия для хоста: отсортирована от новых к старым,
// без дублей по timestamp.
type SeriesSnapshot struct {
	Address   string              `json:"address"`
	Timeframe models.Timeframe    `json:"timeframe"`
	Series    models.CandleSeries `json:"series"`
	Price     decimal.Decimal     `json:"price"`
	Loading   bool                `json:"loading"`
	Err       string              `json:"error,omitempty"`
}

type cmdKind int

const (
	cmdWatch cmdKind = iota
	cmdRefetch
	cmdActive
)

type command struct {
	kind    cmdKind
	address string
	tf      models.Timeframe
	active  bool
}

// Engine собирает одну авторитетную серию на (address, timeframe):
// live — семя истории + живой тик через Merge, не-live — периодический
// снапшот истории через Window. Все входы сходятся в одной горутине Start,
// снаружи только команды и чтение Snapshot.
type Engine struct {
	hist  HistorySource
	ticks TickSource
	st    *healthsvc.State

	refetchEvery time.Duration
	cmds         chan command

	// поля ниже трогает только горутина Start
	address     string
	tf          models.Timeframe
	active      bool
	seed        models.CandleSeries // live-семя; результат мержа складывается обратно
	hseries     models.CandleSeries
	hprice      decimal.Decimal
	loading     bool
	lastErr     string
	lastStaleTS float64 // чтобы один и тот же устаревший тик не считать дважды

	mu   sync.RWMutex
	snap SeriesSnapshot
}

func NewEngine(hist *histsvc.Client, sess *streamsvc.Session, st *healthsvc.State) *Engine {
	return newEngine(hist, sess, st)
}

func newEngine(hist HistorySource, ticks TickSource, st *healthsvc.State) *Engine {
	return &Engine{
		hist:         hist,
		ticks:        ticks,
		st:           st,
		refetchEvery: refetchInterval,
		cmds:         make(chan command, 16),
	}
}

// Watch переключает инструмент/таймфрейм. Старые данные остаются на экране,
// пока не доедет новый источник (stale-while-revalidate).
func (e *Engine) Watch(address string, tf models.Timeframe) {
	e.cmds <- command{kind: cmdWatch, address: address, tf: tf}
}

// Refetch — явный пользовательский refresh: в live перечитывает семя.
func (e *Engine) Refetch() { e.cmds <- command{kind: cmdRefetch} }

// SetActive — сигнал видимости хоста: false глушит стрим и рефетчи.
func (e *Engine) SetActive(v bool) { e.cmds <- command{kind: cmdActive, active: v} }

func (e *Engine) Snapshot() SeriesSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

func (e *Engine) Start(ctx context.Context) {
	t := time.NewTicker(e.refetchEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			e.ticks.Watch("", false)
			return
		case cmd := <-e.cmds:
			e.handle(ctx, cmd)
		case <-e.ticks.Updates():
			e.publish()
		case <-t.C:
			if e.active && e.address != "" && !e.tf.IsLive() {
				e.fetchHistory(ctx)
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdWatch:
		if cmd.address == e.address && cmd.tf == e.tf {
			return
		}
		if cmd.address != e.address {
			// внутренние источники чужого адреса мержить нельзя,
			// опубликованная серия при этом остаётся до нового фетча
			e.seed, e.hseries, e.hprice = nil, nil, decimal.Decimal{}
		}
		e.address, e.tf = cmd.address, cmd.tf
		e.resubscribe(ctx)

	case cmdRefetch:
		if e.address == "" {
			return
		}
		if e.tf.IsLive() {
			e.fetchSeed(ctx)
		} else {
			e.fetchHistory(ctx)
		}

	case cmdActive:
		if cmd.active == e.active {
			return
		}
		e.active = cmd.active
		if !e.active {
			e.ticks.Watch(e.address, false)
			return
		}
		e.resubscribe(ctx)
	}
}

func (e *Engine) resubscribe(ctx context.Context) {
	if e.address == "" {
		e.ticks.Watch("", false)
		e.publish()
		return
	}
	if !e.active {
		return
	}
	if e.tf.IsLive() {
		e.ticks.Watch(e.address, true)
		e.fetchSeed(ctx) // семя читается один раз, дальше живёт на тиках
	} else {
		e.ticks.Watch(e.address, false)
		e.fetchHistory(ctx)
	}
}

func (e *Engine) fetchSeed(ctx context.Context) {
	e.loading = len(e.seed) == 0
	e.publish()
	series, price, err := e.hist.Fetch(ctx, e.address, e.tf)
	if err != nil {
		// последняя известная серия остаётся видимой
		e.lastErr = err.Error()
		e.loading = false
		log.Printf("[CHART] seed fetch %s: %v", e.address, err)
		e.publish()
		return
	}
	e.seed, e.hprice = series, price
	e.lastErr = ""
	e.loading = false
	if e.st != nil {
		e.st.SetReady(true)
	}
	e.publish()
}

func (e *Engine) fetchHistory(ctx context.Context) {
	e.loading = len(e.hseries) == 0
	e.publish()
	series, price, err := e.hist.Fetch(ctx, e.address, e.tf)
	if err != nil {
		e.lastErr = err.Error()
		e.loading = false
		log.Printf("[CHART] history fetch %s %s: %v", e.address, e.tf, err)
		e.publish()
		return
	}
	e.hseries, e.hprice = series, price
	e.lastErr = ""
	e.loading = false
	if e.st != nil {
		e.st.SetReady(true)
	}
	e.publish()
}

// publish пересобирает выходную серию из текущих входов и выкладывает снапшот.
func (e *Engine) publish() {
	ts := e.ticks.Snapshot()

	var out models.CandleSeries
	var price decimal.Decimal

	if e.tf.IsLive() {
		merged, stale := Merge(e.seed, ts.Tick)
		if stale {
			if ts.Tick.Timestamp != e.lastStaleTS {
				e.lastStaleTS = ts.Tick.Timestamp
				if e.st != nil {
					e.st.IncStaleTicks()
				}
				log.Printf("[CHART] stale tick dropped %s ts=%v", e.address, ts.Tick.Timestamp)
			}
		} else {
			e.seed = merged
		}
		out = merged
		switch {
		case ts.Tick != nil:
			price = ts.Price
		case len(out) > 0:
			price = decimal.NewFromFloat(out[0].Close)
		}
	} else {
		out = Window(e.hseries, e.tf)
		if ts.Tick != nil && !ts.Price.IsZero() {
			// режим только что переключили, тик ещё не снесён
			price = ts.Price
		} else {
			price = e.hprice
		}
	}

	e.mu.Lock()
	// stale-while-revalidate через границу live/не-live: пока новый источник
	// не доехал (грузится или упал), держим последнюю опубликованную серию
	if len(out) == 0 && len(e.snap.Series) > 0 && (e.loading || e.lastErr != "") {
		out = e.snap.Series
		if price.IsZero() {
			price = e.snap.Price
		}
	}
	e.snap = SeriesSnapshot{
		Address:   e.address,
		Timeframe: e.tf,
		Series:    out,
		Price:     price,
		Loading:   e.loading,
		Err:       e.lastErr,
	}
	e.mu.Unlock()
}
