package synthesis

import "context"

// Transport moves requests to the worker and responses back. Implementations
// address every exchange by request ID so concurrent callers never see each
// other's responses.
type Transport interface {
	// Submit hands req to the worker.
	Submit(ctx context.Context, req Request) error
	// Poll claims the response for id. found is false while the request is
	// still pending. A claimed response is never returned again.
	Poll(ctx context.Context, id string) (resp Response, found bool, err error)
	// Withdraw removes any trace of id: an unconsumed request and any late
	// response.
	Withdraw(ctx context.Context, id string) error
	Close() error
}
