package service

import (
	"sync/atomic"
	"time"
)

// State — атомарное состояние сервиса для health-ручек.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds
	reconnects   atomic.Int64
	staleTicks   atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) IncReconnects()    { s.reconnects.Add(1) }
func (s *State) Reconnects() int64 { return s.reconnects.Load() }

// IncStaleTicks — счётчик отброшенных устаревших тиков; частый рост
// означает проблемы с часами или порядком доставки выше по течению.
func (s *State) IncStaleTicks()    { s.staleTicks.Add(1) }
func (s *State) StaleTicks() int64 { return s.staleTicks.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
