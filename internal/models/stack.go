package models

import (
	"encoding/json"
	"strings"
)

// Stack status values as reported by the orchestration manager.
const (
	StackStatusActive   = "active"
	StackStatusInactive = "inactive"
)

// StackRecord is the point-in-time snapshot of one orchestrated stack.
// Records are created during capture and never modified afterwards.
type StackRecord struct {
	// ID is assigned by the manager and is not stable across restores;
	// Name is the matching key when reconciling against a target endpoint.
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`

	// ComposeContent holds the manifest exactly as the manager stores it.
	// Depending on how the stack was created upstream this is either the
	// plain compose text or a JSON envelope of the form
	// {"StackFileContent": "<compose text>"}. Capture keeps the native
	// form; UnwrapManifest resolves it at use time.
	ComposeContent string `json:"compose_file_content"`

	// ManifestMissing marks a record whose manifest could not be fetched
	// during capture. The record is still kept so the operator can see
	// the capture was incomplete.
	ManifestMissing bool `json:"manifest_missing,omitempty"`
}

// ArchiveRecordSet is the stack_states.json document stored at the root of
// every backup archive.
type ArchiveRecordSet struct {
	CaptureTimestamp string        `json:"capture_timestamp"`
	CaptureVersion   string        `json:"capture_version"`
	TotalStacks      int           `json:"total_stacks"`
	Stacks           []StackRecord `json:"stacks"`
}

type manifestEnvelope struct {
	StackFileContent *string `json:"StackFileContent"`
}

// UnwrapManifest returns the plain compose text for a stored manifest.
// It accepts both the enveloped and the plain form; archives produced by
// older versions may carry either, so both must keep working indefinitely.
func UnwrapManifest(stored string) string {
	trimmed := strings.TrimSpace(stored)
	if !strings.HasPrefix(trimmed, "{") {
		return stored
	}
	var env manifestEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || env.StackFileContent == nil {
		// Not the envelope, just a manifest that happens to start with
		// a brace. Use it as-is.
		return stored
	}
	return *env.StackFileContent
}
