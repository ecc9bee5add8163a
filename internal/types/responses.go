package types

// WSCommandResult is the reply to a panel command.
type WSCommandResult struct {
	Type    string `json:"type"`            // "<command>_result"
	Success bool   `json:"success"`         // true if command succeeded
	Error   any    `json:"error,omitempty"` // *ValidationError or a message
	Data    any    `json:"data,omitempty"`  // Optional response data
}

// DecisionLogPage is one page of the decision log, newest first.
type DecisionLogPage struct {
	Entries any    `json:"entries"`
	More    bool   `json:"more"` // Older entries exist
	Path    string `json:"path"`
}
