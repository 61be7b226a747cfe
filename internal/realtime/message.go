package realtime

// Websocket frames exchanged on the change feed.

// Client operations.
const (
	ClientSubscribe   = "subscribe"
	ClientUnsubscribe = "unsubscribe"
)

// ClientMessage is sent by a client to manage its subscriptions.
type ClientMessage struct {
	Op     string `json:"op"`
	Topic  string `json:"topic"`
	Table  string `json:"table,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// StatusSubscribed acknowledges a subscribe request. Changes committed after the
// acknowledgement are delivered.
const StatusSubscribed = "subscribed"

// ServerMessage is sent to the client for each delivered change, to acknowledge
// a subscription, or to report a rejected one.
type ServerMessage struct {
	Topic  string `json:"topic"`
	Table  string `json:"table,omitempty"`
	Event  Op     `json:"event,omitempty"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}
