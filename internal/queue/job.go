// Copyright 2025 James Ross
package queue

import "strconv"

// ResultTTLKeepForever is the sentinel value for JobSpec.ResultTTL meaning
// "persist the job hash forever" (the protocol's None-marker).
const ResultTTLKeepForever = -1

// ResultTTLDefault is applied when a job's result_ttl field is absent.
const ResultTTLDefault = 500

// JobSpec is the set of fields a producer supplies at Enqueue time, plus the
// fields transitions set along the way. Unknown fields round-trip through
// Extra without ever being interpreted by the protocol.
type JobSpec struct {
	Data         []byte
	Description  string
	CreatedAt    string
	Timeout      int
	ResultTTLSet bool
	ResultTTL    int
	Origin       string
	EnqueuedAt   string
	StartedAt    string
	EndedAt      string
	Status       Status
	DependencyID string
	ExcInfo      string

	// Extra carries any hash fields this package does not recognize,
	// preserved verbatim across transitions.
	Extra map[string]string
}

// Job is a dequeued job: its id plus its full field set.
type Job struct {
	ID string
	JobSpec
}

// ToFields serializes a JobSpec into hash fields suitable for HSet/HMSet.
// Only fields with values are included; callers merge this into the
// existing hash rather than replacing it wholesale.
func (s JobSpec) ToFields() map[string]string {
	f := make(map[string]string, len(s.Extra)+12)
	for k, v := range s.Extra {
		f[k] = v
	}
	if s.Data != nil {
		f["data"] = string(s.Data)
	}
	if s.Description != "" {
		f["description"] = s.Description
	}
	if s.CreatedAt != "" {
		f["created_at"] = s.CreatedAt
	}
	if s.Timeout != 0 {
		f["timeout"] = strconv.Itoa(s.Timeout)
	}
	if s.ResultTTLSet {
		f["result_ttl"] = strconv.Itoa(s.ResultTTL)
	}
	if s.Origin != "" {
		f["origin"] = s.Origin
	}
	if s.EnqueuedAt != "" {
		f["enqueued_at"] = s.EnqueuedAt
	}
	if s.StartedAt != "" {
		f["started_at"] = s.StartedAt
	}
	if s.EndedAt != "" {
		f["ended_at"] = s.EndedAt
	}
	if s.Status != "" {
		f["status"] = string(s.Status)
	}
	if s.DependencyID != "" {
		f["dependency_id"] = s.DependencyID
	}
	if s.ExcInfo != "" {
		f["exc_info"] = s.ExcInfo
	}
	return f
}

// specFromFields builds a JobSpec from a raw hash, preserving fields this
// package doesn't recognize in Extra.
func specFromFields(fields map[string]string) JobSpec {
	s := JobSpec{Extra: map[string]string{}}
	for k, v := range fields {
		switch k {
		case "data":
			s.Data = []byte(v)
		case "description":
			s.Description = v
		case "created_at":
			s.CreatedAt = v
		case "timeout":
			if n, err := strconv.Atoi(v); err == nil {
				s.Timeout = n
			}
		case "result_ttl":
			if n, err := strconv.Atoi(v); err == nil {
				s.ResultTTLSet = true
				s.ResultTTL = n
			}
		case "origin":
			s.Origin = v
		case "enqueued_at":
			s.EnqueuedAt = v
		case "started_at":
			s.StartedAt = v
		case "ended_at":
			s.EndedAt = v
		case "status":
			s.Status = Status(v)
		case "dependency_id":
			s.DependencyID = v
		case "exc_info":
			s.ExcInfo = v
		default:
			s.Extra[k] = v
		}
	}
	return s
}
