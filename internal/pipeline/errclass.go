package pipeline

import (
	"context"
	"errors"
	"net"

	"github.com/raglet/raglet/internal/config"
	"github.com/raglet/raglet/internal/enrich"
	"github.com/raglet/raglet/internal/gitcli"
	"github.com/raglet/raglet/internal/llm"
	"github.com/raglet/raglet/internal/runlock"
)

// Class sorts failures by how the run reacts to them: transient errors
// were already retried at the call site, operation errors skip the unit
// they hit, data errors degrade a document, policy errors switch to
// fallbacks, config and fatal errors end the run.
type Class string

const (
	ClassTransient Class = "transient"
	ClassOperation Class = "operation"
	ClassData      Class = "data"
	ClassPolicy    Class = "policy"
	ClassConfig    Class = "config"
	ClassFatal     Class = "fatal"
)

// Classify maps an error onto its class. Unknown errors count as
// operation errors: recorded, unit skipped, run continues.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, runlock.ErrAlreadyRunning):
		return ClassFatal
	case errors.Is(err, config.ErrInvalid):
		return ClassConfig
	case errors.Is(err, enrich.ErrBreakerOpen):
		return ClassPolicy
	case gitcli.IsMissingPath(err):
		return ClassData
	case isTransient(err):
		return ClassTransient
	default:
		return ClassOperation
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return false
}
