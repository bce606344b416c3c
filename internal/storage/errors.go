package storage

import (
	"context"
	"fmt"
	"net/http"

	"zesty-backup/internal/errors"
)

var classifier = errors.NewErrorClassifier()

// providerError classifies a failed provider call. Recoverable causes become
// transient provider errors, everything else is permanent. The classified
// cause stays in the chain so callers can test for ErrorTypeNotFound.
func providerError(provider, op, name string, err error) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("%s %s %s failed", provider, op, name)
	if errors.Is(err, context.Canceled) {
		return errors.WrapError(err, msg)
	}

	classified := classifier.ClassifyError(err)
	var wrapped *errors.AppError
	if classified.IsRecoverable() {
		wrapped = errors.NewTransientProviderError(msg, classified)
	} else {
		wrapped = errors.NewPermanentProviderError(msg, classified)
	}
	return wrapped.WithContext("provider", provider).WithContext("object", name)
}

// notFound is the permanent error for a missing remote object
func notFound(provider, name string) error {
	return providerError(provider, "lookup", name, errors.NewAppError(errors.ErrorTypeNotFound,
		fmt.Sprintf("%s not found on %s", name, provider), nil))
}

// statusError turns a non-2xx response into an *errors.HTTPStatusError
func statusError(resp *http.Response, body []byte) error {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &errors.HTTPStatusError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Body:       string(body),
	}
}

// IsNotFound reports whether err means the remote object does not exist
func IsNotFound(err error) bool {
	return errors.IsType(err, errors.ErrorTypeNotFound)
}
