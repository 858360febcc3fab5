package ai

import (
	"fmt"
)

// ConfigurationError blocks an action before any network call.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: configuration error: %s", e.Provider, e.Reason)
}

// HTTPError is a non-2xx vendor response. Body is pretty-printed JSON when
// the vendor returned JSON, otherwise the raw text.
type HTTPError struct {
	Provider   string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d %s", e.Provider, e.StatusCode, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d %s: %s", e.Provider, e.StatusCode, e.Status, e.Body)
}

// ResponseError is a 2xx reply that lacks the expected completion field.
type ResponseError struct {
	Provider string
	Reason   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %s", e.Provider, e.Reason)
}

// UnsupportedProviderError means a model references a provider id with no
// registered adapter.
type UnsupportedProviderError struct {
	ID string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported ai provider: %q", e.ID)
}

// VendorError is an error the vendor reported inside a 2xx reply, such as
// Ollama's "model not found". Retrying does not help.
type VendorError struct {
	Provider string
	Message  string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// TransportError is a request that never got an HTTP response.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
