package events

// Event is a committed ledger change. Emitters receive it only after the
// instruction that produced it has been stored.
type Event interface {
	EventType() string
}

// Emitter forwards events to subscribers such as loggers or indexers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
