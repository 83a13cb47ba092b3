package client

import (
	"context"
	"net/http"
	"time"

	x402 "github.com/driftpay/x402"
)

// httpTransport implements x402.Transport over a stdlib *http.Client. Its
// CheckRedirect always declines: a 3xx is returned to the pipeline as a
// plain response rather than followed. That sidesteps spec.md §4.1's
// cross-origin-redirect-strips-payment-assertion edge case entirely, since
// no request ever carries X-PAYMENT across a redirect hop here — there is
// no redirect hop. Nothing in this package or in pipeline.go follows one.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport builds the default x402.Transport, bounding every round
// trip to timeout.
func NewHTTPTransport(timeout time.Duration) x402.Transport {
	return &httpTransport{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (t *httpTransport) Do(ctx context.Context, req *x402.Request) (*x402.Response, error) {
	httpReq, err := req.ToHTTP()
	if err != nil {
		return nil, err
	}
	httpReq = httpReq.WithContext(ctx)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	return x402.ResponseFromHTTP(httpResp)
}
