package models

import (
	"encoding/json"
	"time"
)

// Job is one invocation envelope: {"id": "...", "input": {...}}.
type Job struct {
	ID    string   `json:"id,omitempty"`
	Input JobInput `json:"input"`
}

type JobInput struct {
	Workflow       map[string]any `json:"workflow"`
	FilenamePrefix string         `json:"filename_prefix,omitempty"`
}

// Artifact is one delivered output kind. Missing marks a kind rendered as
// null (storage delivery without a usable file).
type Artifact struct {
	Kind     string
	Filename string
	Value    string
	Missing  bool
}

// JobResponse is the single structured result of a job. A non-empty Error
// is rendered as {"error": ...}; otherwise as {"status": "success", ...}.
type JobResponse struct {
	Artifacts []Artifact
	Error     string
}

// StatusSuccess is the status value of a successful response.
const StatusSuccess = "success"

func Failure(msg string) JobResponse { return JobResponse{Error: msg} }

func (r JobResponse) OK() bool { return r.Error == "" }

// Delivered counts artifacts that carry a value.
func (r JobResponse) Delivered() int {
	n := 0
	for _, a := range r.Artifacts {
		if !a.Missing {
			n++
		}
	}
	return n
}

func (r JobResponse) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(map[string]string{"error": r.Error})
	}

	out := map[string]any{"status": StatusSuccess}
	for _, a := range r.Artifacts {
		if a.Missing {
			out[a.Kind] = nil
			out[a.Kind+"_filename"] = nil
			continue
		}
		out[a.Kind] = a.Value
		out[a.Kind+"_filename"] = a.Filename
	}
	return json.Marshal(out)
}

// JobStatus is the lifecycle state of a queued job record.
type JobStatus string

const (
	JobInQueue    JobStatus = "IN_QUEUE"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// JobRecord is what /status/{id} returns for asynchronous jobs.
type JobRecord struct {
	ID        string          `json:"id"`
	Status    JobStatus       `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Record renders r as the terminal record of job id.
func (r JobResponse) Record(id string) (JobRecord, error) {
	out, err := json.Marshal(r)
	if err != nil {
		return JobRecord{}, err
	}
	status := JobCompleted
	if !r.OK() {
		status = JobFailed
	}
	return JobRecord{ID: id, Status: status, Output: out}, nil
}
