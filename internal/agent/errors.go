package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/proposer/provider"
	searchmodels "github.com/mohammad-safakhou/proposer/tools/web_search/models"
)

// FailureKind classifies a GenerationFailure.
type FailureKind string

const (
	// KindSchema means the model replied but the content did not match the role's shape.
	KindSchema FailureKind = "schema_validation"
	// KindProvider means the model or search provider call itself failed.
	KindProvider FailureKind = "provider"
	// KindTimeout means the per-call deadline elapsed.
	KindTimeout FailureKind = "timeout"
)

// GenerationFailure is the single error type agents return.
type GenerationFailure struct {
	Role      Role
	Kind      FailureKind
	Retryable bool
	Err       error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("%s %s failure: %v", e.Role, e.Kind, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

// SchemaFailure wraps a malformed reply. Fresh sampling may fix it, so it is retryable.
func SchemaFailure(role Role, err error) error {
	return &GenerationFailure{Role: role, Kind: KindSchema, Retryable: true, Err: err}
}

// ProviderFailure classifies an upstream error from the model or search provider.
func ProviderFailure(role Role, err error) error {
	var gf *GenerationFailure
	if errors.As(err, &gf) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GenerationFailure{Role: role, Kind: KindTimeout, Retryable: true, Err: err}
	}
	retryable := provider.IsRetryable(err)
	var se *searchmodels.SearchError
	if errors.As(err, &se) {
		retryable = se.Retryable()
	}
	return &GenerationFailure{Role: role, Kind: KindProvider, Retryable: retryable, Err: err}
}

// AsFailure extracts a GenerationFailure from err.
func AsFailure(err error) (*GenerationFailure, bool) {
	var gf *GenerationFailure
	if errors.As(err, &gf) {
		return gf, true
	}
	return nil, false
}
