package models

// ConnState — состояние подписки на живой фид инструмента.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	// Терминальные: автоматических реконнектов больше не будет.
	ConnFailedMaxRetries
	ConnFailedServerRejected
)

func (s ConnState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailedMaxRetries:
		return "failed_max_retries"
	case ConnFailedServerRejected:
		return "failed_server_rejected"
	default:
		return "unknown"
	}
}

// Terminal — из этого состояния стейт-машина сама не выйдет,
// нужен новый Watch.
func (s ConnState) Terminal() bool {
	return s == ConnFailedMaxRetries || s == ConnFailedServerRejected
}
