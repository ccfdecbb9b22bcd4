package model

import (
	"time"

	"github.com/google/uuid"
)

type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

type ScanStatus string

const (
	ScanStatusPending    ScanStatus = "pending"
	ScanStatusProcessing ScanStatus = "processing"
	ScanStatusDone       ScanStatus = "done"
	ScanStatusError      ScanStatus = "error"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusDone || s == ScanStatusError
}

// CanTransitionTo reports whether a result in status s may be overwritten with next.
func (s ScanStatus) CanTransitionTo(next ScanStatus) bool {
	switch s {
	case ScanStatusPending:
		return true
	case ScanStatusProcessing:
		return next != ScanStatusPending
	default:
		return false
	}
}

// ScanRequest is immutable once created.
type ScanRequest struct {
	ID          uuid.UUID      `json:"id"`
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

func NewScanRequest(text string, metadata map[string]any) ScanRequest {
	return ScanRequest{
		ID:          uuid.New(),
		Text:        text,
		Metadata:    metadata,
		SubmittedAt: time.Now(),
	}
}

// ScanResult is the record kept for an asynchronous scan.
// Verdict is set iff Status is done; Reason is set iff Status is error.
type ScanResult struct {
	ID         uuid.UUID     `json:"id"`
	Status     ScanStatus    `json:"status"`
	Verdict    Verdict       `json:"verdict,omitempty"`
	Latency    time.Duration `json:"latency,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

func PendingResult(req ScanRequest, enqueuedAt time.Time) ScanResult {
	return ScanResult{
		ID:         req.ID,
		Status:     ScanStatusPending,
		EnqueuedAt: enqueuedAt,
	}
}

// Processing returns a copy of r marked as picked up by a worker at t.
func (r ScanResult) Processing(t time.Time) ScanResult {
	r.Status = ScanStatusProcessing
	r.StartedAt = &t
	return r
}

// Done returns a copy of r completed with verdict v.
func (r ScanResult) Done(v Verdict, latency time.Duration, t time.Time) ScanResult {
	r.Status = ScanStatusDone
	r.Verdict = v
	r.Latency = latency
	r.Reason = ""
	r.FinishedAt = &t
	return r
}

// Failed returns a copy of r terminated with reason.
func (r ScanResult) Failed(reason string, latency time.Duration, t time.Time) ScanResult {
	r.Status = ScanStatusError
	r.Verdict = ""
	r.Latency = latency
	r.Reason = reason
	r.FinishedAt = &t
	return r
}

// Job is owned by the queue until dequeued, then by the dequeuing worker.
type Job struct {
	Request    ScanRequest
	EnqueuedAt time.Time
}

func NewJob(req ScanRequest) Job {
	return Job{Request: req, EnqueuedAt: time.Now()}
}
