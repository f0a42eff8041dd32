package types

// Event is a structured record of a state change applied by one of the
// engines. Attributes hold the canonical string encoding of the payload.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
