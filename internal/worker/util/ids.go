package util

import "github.com/google/uuid"

// NewID returns a random job id, optionally prefixed ("job_<uuid>").
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + uuid.NewString()
}
