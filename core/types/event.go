package types

// Event represents a structured state change emitted by a ledger instance.
type Event struct {
	Type       string
	Attributes map[string]string
}
