package llm

import "fmt"

// CredentialError reports a missing or unusable credential for a provider.
type CredentialError struct {
	Provider string
	Reason   string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: credential missing: %s", e.Provider, e.Reason)
}

// EndpointError reports an unusable endpoint configuration for a provider.
type EndpointError struct {
	Provider string
	Endpoint string
	Reason   string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s: invalid endpoint %q: %s", e.Provider, e.Endpoint, e.Reason)
}

// UpstreamError reports a non-2xx response from the provider, with the
// upstream body surfaced verbatim so the user sees the real reason.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Body)
}
