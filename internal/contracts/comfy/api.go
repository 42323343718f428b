// Package comfy holds the wire types of the execution server HTTP API.
package comfy

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Prompt   map[string]any `json:"prompt"`
	ClientID string         `json:"client_id,omitempty"`
}

// PromptResponse is the body returned by POST /prompt.
type PromptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

// History is the body of GET /history/{prompt_id}, keyed by prompt id.
type History map[string]HistoryEntry

type HistoryEntry struct {
	Status  PromptStatus   `json:"status"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

type PromptStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// StatusError is the status_str reported for a failed execution.
const StatusError = "error"
