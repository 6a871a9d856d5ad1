// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"fmt"
	"net/http"
)

// Result is the outcome of a scheduling operation.
type Result struct {
	Success bool   `json:"success" cbor:"success"`
	Status  int    `json:"status" cbor:"status"`
	Message string `json:"message" cbor:"message"`

	// Skipped marks a trigger dropped because the pipeline was already
	// being evaluated or queued. Skipped results are successful.
	Skipped bool `json:"skipped,omitempty" cbor:"skipped,omitempty"`
}

func (r Result) String() string {
	return fmt.Sprintf("%d %s", r.Status, r.Message)
}

// Accepted reports a manual trigger whose evaluation has started.
func Accepted(pipeline string) Result {
	return Result{
		Success: true,
		Status:  http.StatusAccepted,
		Message: fmt.Sprintf("Request to schedule pipeline %s accepted", pipeline),
	}
}

// Scheduled reports a cause handed to the queue.
func Scheduled(message string) Result {
	return Result{Success: true, Status: http.StatusOK, Message: message}
}

// NotScheduled reports an evaluation that found nothing to run.
func NotScheduled(message string) Result {
	return Result{Success: true, Status: http.StatusOK, Message: message}
}

// AlreadyTriggered reports a trigger skipped because the pipeline is
// already being evaluated or has a cause queued.
func AlreadyTriggered(pipeline string) Result {
	return Result{
		Success: true,
		Status:  http.StatusOK,
		Message: fmt.Sprintf("Pipeline %s is already triggered", pipeline),
		Skipped: true,
	}
}

// Skipped reports a trigger that does not apply to the pipeline.
func Skipped(message string) Result {
	return Result{Success: true, Status: http.StatusOK, Message: message, Skipped: true}
}

func Conflict(message string) Result {
	return Result{Status: http.StatusConflict, Message: message}
}

func NotFound(message string) Result {
	return Result{Status: http.StatusNotFound, Message: message}
}

func Unprocessable(message string) Result {
	return Result{Status: http.StatusUnprocessableEntity, Message: message}
}

func Unavailable(message string) Result {
	return Result{Status: http.StatusServiceUnavailable, Message: message}
}

func InternalError(message string) Result {
	return Result{Status: http.StatusInternalServerError, Message: message}
}
