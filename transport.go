package x402

import "context"

// Transport is the opaque HTTP transport the pipeline dispatches through.
// It is injected, not owned: low-level HTTP/TLS concerns are entirely the
// collaborator's responsibility. The default implementation (client.NewHTTPTransport)
// wraps a stdlib *http.Client; tests substitute a fake satisfying this interface.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to a Transport, mirroring http.HandlerFunc.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
