package provider

import (
	"errors"
	"fmt"

	"reelforge/internal/apperr"
	"reelforge/pkg/httputil"
)

// SubmitError classifies a failed submit call. Only a request the remote
// rejected as malformed becomes a validation error, which stops the fallback
// chain. Credential, billing and other refusals are provider errors so the
// next candidate is tried.
func SubmitError(provider string, err error) error {
	var se *httputil.StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("%s submit: %w", provider, err)
	}
	if se.Malformed() {
		return &apperr.Error{
			Kind:     apperr.KindValidation,
			Message:  fmt.Sprintf("%s rejected the request", provider),
			Provider: provider,
			Err:      err,
		}
	}
	return apperr.Provider(provider, err)
}
