package venue

import "fmt"

// BusinessError is a non-"00000" venue response: the request reached Bitget
// and was rejected or failed application-side. Never retried.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("bitget: code=%s msg=%s", e.Code, e.Message)
}

// TransportError is a connection-level failure: refused connection, DNS,
// or a deadline exceeded. Retried per the client's backoff policy; surfaced
// once the retry budget is exhausted.
type TransportError struct {
	Kind    string // "connection" | "http_status" | "exhausted"
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("venue transport (%s): %s", e.Kind, e.Message)
}

// NotFound is returned by GetInstrument when no contract matches the symbol.
type NotFound struct {
	Symbol string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("instrument not found: %s", e.Symbol)
}

// InvalidSize is raised by precision rounding when a size falls outside
// [min_size, max_size] after quantization.
type InvalidSize struct {
	Symbol string
	Size   string
	Reason string
}

func (e *InvalidSize) Error() string {
	return fmt.Sprintf("invalid size for %s: %s (%s)", e.Symbol, e.Size, e.Reason)
}
