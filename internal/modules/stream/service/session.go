package service

import (
	"context"
	"log"
	"sync"
	"time"

	"chart_feed/internal/models"
	"chart_feed/internal/modules/config"
	healthsvc "chart_feed/internal/modules/health/service"
	"chart_feed/internal/notify"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	// heartbeat — тот же SUBSCRIBE: keep-alive и идемпотентная переподписка разом.
	heartbeatPeriod = 30 * time.Second
	reconnectDelay  = 2 * time.Second
	maxConnAttempts = 5
)

// TickSnapshot — то, что сессия отдаёт наружу. Tick/Price перетираются
// каждым валидным пушем и чистятся при teardown.
type TickSnapshot struct {
	Tick  *models.Candle
	Price decimal.Decimal
	State models.ConnState
	Err   string
}

// Session держит максимум одну подписку на живой фид инструмента:
// connect → subscribe → heartbeat → bounded reconnect → teardown.
// Реконнект транспорта выключен намеренно — политика ретраев живёт здесь,
// явная и ограниченная.
type Session struct {
	cfg    *config.Config
	dialer Dialer
	n      notify.Notifier
	st     *healthsvc.State

	// тюнинг под тесты, в бою — константы выше
	heartbeat   time.Duration
	retryDelay  time.Duration
	maxAttempts int

	// у gorilla один писатель на соединение, все WriteJSON идут через wmu
	wmu sync.Mutex

	mu      sync.RWMutex
	epoch   int64         // поколение подписки: колбэк с чужим epoch — no-op
	stop    chan struct{} // закрывается при смене поколения, будит паузы ретрая
	address string
	conn    Conn
	state   models.ConnState
	tick    *models.Candle
	price   decimal.Decimal
	lastErr string

	updates chan struct{}
}

func NewSession(cfg *config.Config, d Dialer, n notify.Notifier, st *healthsvc.State) *Session {
	return &Session{
		cfg:         cfg,
		dialer:      d,
		n:           n,
		st:          st,
		heartbeat:   heartbeatPeriod,
		retryDelay:  reconnectDelay,
		maxAttempts: maxConnAttempts,
		state:       models.ConnIdle,
		updates:     make(chan struct{}, 1),
	}
}

// Watch — единственная точка управления подпиской. Смена адреса гасит
// старую подписку и поднимает новую; enabled=false — только гасит.
func (s *Session) Watch(address string, enabled bool) {
	s.mu.Lock()
	if enabled && address != "" && address == s.address && !s.state.Terminal() {
		s.mu.Unlock()
		return // уже смотрим этот адрес
	}
	s.epoch++
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.teardownLocked()
	if !enabled || address == "" {
		s.mu.Unlock()
		s.notifyUpdate()
		return
	}
	s.address = address
	s.state = models.ConnConnecting
	s.stop = make(chan struct{})
	ep, stop := s.epoch, s.stop
	s.mu.Unlock()
	s.notifyUpdate()

	go s.run(ep, address, stop)
}

func (s *Session) Close() { s.Watch("", false) }

// Snapshot — копия текущего состояния подписки.
func (s *Session) Snapshot() TickSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := TickSnapshot{Price: s.price, State: s.state, Err: s.lastErr}
	if s.tick != nil {
		t := *s.tick
		snap.Tick = &t
	}
	return snap
}

// Updates — сигнальный канал "что-то поменялось", уведомления коалесцируются.
func (s *Session) Updates() <-chan struct{} { return s.updates }

func (s *Session) run(ep int64, address string, stop <-chan struct{}) {
	attempts := 0
	for {
		if !s.alive(ep) {
			return
		}

		conn, err := s.dialer.Dial(context.Background(), s.cfg.Market.WSURL)
		if err != nil {
			attempts++
			log.Printf("[WS] dial error %s attempt %d/%d: %v", address, attempts, s.maxAttempts, err)
			if attempts >= s.maxAttempts {
				s.fail(ep, address, models.ConnFailedMaxRetries, err)
				return
			}
			if !s.sleep(ep, stop, s.retryDelay) {
				return
			}
			s.setState(ep, models.ConnConnecting, "")
			continue
		}

		if !s.installConn(ep, conn) {
			// подписку снесли, пока мы коннектились
			_ = conn.Close()
			return
		}
		attempts = 0

		if err := s.writeControl(conn, controlMsg{Type: msgSubscribe, Address: address}); err != nil {
			_ = conn.Close()
			if !s.alive(ep) {
				return
			}
			attempts++
			if attempts >= s.maxAttempts {
				s.fail(ep, address, models.ConnFailedMaxRetries, err)
				return
			}
			if !s.sleep(ep, stop, s.retryDelay) {
				return
			}
			continue
		}
		s.setState(ep, models.ConnConnected, "")
		log.Printf("[WS] connected %s", address)

		stopPing := make(chan struct{})
		go s.heartbeatLoop(ep, conn, address, stopPing)

		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				close(stopPing)
				_ = conn.Close()
				if !s.alive(ep) {
					return
				}
				if isServerClose(err) {
					s.fail(ep, address, models.ConnFailedServerRejected, err)
					return
				}
				log.Printf("[WS] read error %s: %v", address, err)
				s.setState(ep, models.ConnDisconnected, err.Error())
				break
			}
			s.handleFrame(ep, address, msg)
		}

		attempts++
		if attempts >= s.maxAttempts {
			s.fail(ep, address, models.ConnFailedMaxRetries, errors.New("reconnect budget exhausted"))
			return
		}
		if !s.sleep(ep, stop, s.retryDelay) {
			return
		}
		s.setState(ep, models.ConnConnecting, "")
	}
}

func (s *Session) heartbeatLoop(ep int64, conn Conn, address string, stop <-chan struct{}) {
	t := time.NewTicker(s.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !s.alive(ep) {
				return
			}
			_ = s.writeControl(conn, controlMsg{Type: msgSubscribe, Address: address})
		}
	}
}

func (s *Session) writeControl(conn Conn, msg controlMsg) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return conn.WriteJSON(msg)
}

func (s *Session) handleFrame(ep int64, address string, raw []byte) {
	if gjson.GetBytes(raw, "type").String() != evtPriceData {
		return
	}
	var frame priceDataFrame
	if err := sonic.Unmarshal(raw, &frame); err != nil {
		log.Printf("[WS] drop undecodable frame %s: %v", address, err)
		return
	}
	if frame.Address != address {
		return // общий транспорт: чужой трафик просто пропускаем
	}
	tick, err := models.CandleFromRow(frame.OHLCVs)
	if err != nil {
		log.Printf("[WS] drop bad tick %s: %v", address, err)
		return
	}
	price, err := decimal.NewFromString(frame.PriceUSD)
	if err != nil {
		log.Printf("[WS] drop tick %s: bad priceUSD %q", address, frame.PriceUSD)
		return
	}

	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		return // поздний колбэк после teardown
	}
	if s.tick != nil && *s.tick == tick && s.price.Equal(price) {
		s.mu.Unlock()
		return
	}
	s.tick = &tick
	s.price = price
	s.mu.Unlock()

	if s.st != nil {
		s.st.TouchTick(time.Now())
	}
	s.notifyUpdate()
}

// teardownLocked шлёт UNSUBSCRIBE, закрывает транспорт и чистит состояние.
func (s *Session) teardownLocked() {
	if s.conn != nil {
		_ = s.writeControl(s.conn, controlMsg{Type: msgUnsubscribe, Address: s.address})
		_ = s.conn.Close()
		s.conn = nil
	}
	s.address = ""
	s.state = models.ConnIdle
	s.tick = nil
	s.price = decimal.Decimal{}
	s.lastErr = ""
	if s.st != nil {
		s.st.SetWSConnected(false)
	}
}

func (s *Session) installConn(ep int64, conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != ep {
		return false
	}
	s.conn = conn
	return true
}

func (s *Session) setState(ep int64, st models.ConnState, errStr string) {
	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.lastErr = errStr
	s.mu.Unlock()

	if s.st != nil {
		s.st.SetWSConnected(st == models.ConnConnected)
		if st == models.ConnDisconnected {
			s.st.IncReconnects()
		}
	}
	s.notifyUpdate()
}

func (s *Session) fail(ep int64, address string, st models.ConnState, err error) {
	s.setState(ep, st, err.Error())
	log.Printf("[WS] %s %s: %v", address, st, err)
	if s.n != nil && s.alive(ep) {
		s.n.Sendf("⚠️ стрим %s: %s (%v)", address, st, err)
	}
}

func (s *Session) alive(ep int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch == ep
}

func (s *Session) sleep(ep int64, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return s.alive(ep)
	}
}

func (s *Session) notifyUpdate() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
