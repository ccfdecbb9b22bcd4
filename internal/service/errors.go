package service

import (
	"errors"

	"cortexguard/scanhub/internal/limiter"
	"cortexguard/scanhub/internal/queue"
	"cortexguard/scanhub/internal/repository"
)

var (
	ErrAdmissionTimeout        = limiter.ErrAdmissionTimeout
	ErrQueueFull               = queue.ErrQueueFull
	ErrShuttingDown            = queue.ErrQueueClosed
	ErrNotFound                = repository.ErrNotFound
	ErrScanDeadlineExceeded    = errors.New("scan deadline exceeded")
	ErrRequestDeadlineExceeded = errors.New("request deadline exceeded")
)

// Rejection reasons reported to callers and used as metric labels.
const (
	ReasonOverCapacity            = "over_capacity"
	ReasonQueueFull               = "queue_full"
	ReasonScanDeadlineExceeded    = "scan_deadline_exceeded"
	ReasonRequestDeadlineExceeded = "request_deadline_exceeded"
	ReasonNotFound                = "not_found"
	ReasonShuttingDown            = "shutting_down"
	ReasonInternal                = "internal_error"
)

// Reason classifies err into one of the rejection reasons.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrAdmissionTimeout):
		return ReasonOverCapacity
	case errors.Is(err, ErrQueueFull):
		return ReasonQueueFull
	case errors.Is(err, ErrScanDeadlineExceeded):
		return ReasonScanDeadlineExceeded
	case errors.Is(err, ErrRequestDeadlineExceeded):
		return ReasonRequestDeadlineExceeded
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrShuttingDown):
		return ReasonShuttingDown
	default:
		return ReasonInternal
	}
}
