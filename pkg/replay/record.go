package replay

// Record is one transition record ("block"). Positions start at 1 and increase by one.
type Record struct {
	Position  uint64 `json:"position"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
