package processor

import (
	"encoding/json"

	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/errors"
)

// ParseJob decodes a job envelope. Unknown input fields are ignored.
func ParseJob(raw []byte) (*models.Job, error) {
	var env struct {
		ID    string                     `json:"id"`
		Input map[string]json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "processor.parse", "invalid job payload")
	}

	job := &models.Job{ID: env.ID}

	if rawWorkflow, ok := env.Input["workflow"]; ok {
		var wf map[string]any
		if err := json.Unmarshal(rawWorkflow, &wf); err != nil {
			return nil, errors.ValidationField("input.workflow", "workflow must be an object")
		}
		job.Input.Workflow = wf
	}
	if rawPrefix, ok := env.Input["filename_prefix"]; ok {
		if err := json.Unmarshal(rawPrefix, &job.Input.FilenamePrefix); err != nil {
			return nil, errors.ValidationField("input.filename_prefix", "filename_prefix must be a string")
		}
	}

	if err := ValidateJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// ValidateJob rejects jobs without a workflow.
func ValidateJob(job *models.Job) error {
	if job == nil || len(job.Input.Workflow) == 0 {
		return errors.ValidationField("input.workflow", msgNoWorkflow)
	}
	return nil
}

// ApplyFilenamePrefix returns a copy of workflow where every node exposing
// inputs.filename_prefix uses prefix. The original is not modified. An
// empty prefix returns workflow unchanged.
func ApplyFilenamePrefix(workflow map[string]any, prefix string) (map[string]any, int) {
	if prefix == "" {
		return workflow, 0
	}

	out := make(map[string]any, len(workflow))
	applied := 0
	for id, node := range workflow {
		out[id] = node

		n, ok := node.(map[string]any)
		if !ok {
			continue
		}
		inputs, ok := n["inputs"].(map[string]any)
		if !ok {
			continue
		}
		if _, has := inputs["filename_prefix"]; !has {
			continue
		}

		newInputs := make(map[string]any, len(inputs))
		for k, v := range inputs {
			newInputs[k] = v
		}
		newInputs["filename_prefix"] = prefix

		newNode := make(map[string]any, len(n))
		for k, v := range n {
			newNode[k] = v
		}
		newNode["inputs"] = newInputs

		out[id] = newNode
		applied++
	}
	return out, applied
}
