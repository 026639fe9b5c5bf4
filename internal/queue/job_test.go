// Copyright 2025 James Ross
package queue

import "testing"

func TestFieldsRoundTrip(t *testing.T) {
	spec := JobSpec{
		Data:        []byte("payload"),
		Description: "fixtures.some_calculation(3, 4, z=2)",
		CreatedAt:   "2016-04-05T22:40:35Z",
		Timeout:     180,
		Status:      StatusQueued,
		Origin:      "default",
		Extra:       map[string]string{"custom": "keep-me"},
	}
	fields := spec.ToFields()
	got := specFromFields(fields)
	if string(got.Data) != "payload" {
		t.Fatalf("data mismatch: %q", got.Data)
	}
	if got.Description != spec.Description {
		t.Fatalf("description mismatch: %q", got.Description)
	}
	if got.Timeout != 180 {
		t.Fatalf("timeout mismatch: %d", got.Timeout)
	}
	if got.Status != StatusQueued {
		t.Fatalf("status mismatch: %q", got.Status)
	}
	if got.Extra["custom"] != "keep-me" {
		t.Fatalf("extra field not preserved: %#v", got.Extra)
	}
}

func TestResultTTLAbsentVsZero(t *testing.T) {
	absent := JobSpec{}
	if absent.ToFields()["result_ttl"] != "" {
		t.Fatalf("expected no result_ttl field when unset")
	}
	zero := JobSpec{ResultTTLSet: true, ResultTTL: 0}
	if zero.ToFields()["result_ttl"] != "0" {
		t.Fatalf("expected result_ttl=0 to round-trip explicitly")
	}
}
