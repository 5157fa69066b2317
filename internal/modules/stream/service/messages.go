package service

// Контракт сервера фиксированный: JSON-сообщения поверх персистентного
// коннекта, тип сообщения в поле "type".
const (
	msgSubscribe   = "SUBSCRIBE"
	msgUnsubscribe = "UNSUBSCRIBE"
	evtPriceData   = "PRICE_DATA"
)

type controlMsg struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

type priceDataFrame struct {
	Type     string    `json:"type"`
	Address  string    `json:"address"`
	OHLCVs   []float64 `json:"ohlcvs"`
	PriceUSD string    `json:"priceUSD"`
}
