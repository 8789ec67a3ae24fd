package enum

// TradeSide is the direction of an executed trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// IsAvailable reports whether the side is a known value.
func (s TradeSide) IsAvailable() bool {
	return s == TradeSideBuy || s == TradeSideSell
}
