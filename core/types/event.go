package types

// Event represents a typed event emitted during state transitions. Attribute
// values are already rendered as strings so events can be logged and served
// without further decoding.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
