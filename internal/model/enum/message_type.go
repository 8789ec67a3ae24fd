package enum

// MessageType identifies a telemetry stream entry.
type MessageType string

const (
	MessageLiveStats    MessageType = "live_stats"
	MessageFinalResults MessageType = "final_results"
	MessageTradeEvent   MessageType = "trade_event"
)

// IsAvailable reports whether the type has a registered handler.
func (t MessageType) IsAvailable() bool {
	switch t {
	case MessageLiveStats, MessageFinalResults, MessageTradeEvent:
		return true
	default:
		return false
	}
}
