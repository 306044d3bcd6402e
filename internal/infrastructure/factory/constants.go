package factory

// Exchange name constants
const (
	ExchangeBinance  = "binance"
	ExchangeBybit    = "bybit"
	ExchangeOKX      = "okx"
	ExchangeBitget   = "bitget"
	ExchangeBackpack = "backpack"
)
