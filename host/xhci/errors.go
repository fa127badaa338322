package xhci

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
)

// Correlation errors. Each wraps [pkg.ErrProtocol]: the handshake between
// driver and controller is broken and the registry can no longer be trusted.
var (
	// ErrDuplicateAddress indicates a request was registered at an address
	// that is still outstanding.
	ErrDuplicateAddress = fmt.Errorf("%w: duplicate address", pkg.ErrProtocol)

	// ErrUnexpectedCompletion indicates a completion for an address with no
	// outstanding request, or a second completion for the same request.
	ErrUnexpectedCompletion = fmt.Errorf("%w: unexpected completion", pkg.ErrProtocol)

	// ErrNotFulfilled indicates a result was taken before its completion
	// arrived.
	ErrNotFulfilled = fmt.Errorf("%w: request not fulfilled", pkg.ErrProtocol)

	// ErrUnknownAddress indicates an address that was never registered.
	ErrUnknownAddress = fmt.Errorf("%w: unknown address", pkg.ErrProtocol)

	// ErrUnexpectedEvent indicates a completion of the wrong kind for the
	// request it matched.
	ErrUnexpectedEvent = fmt.Errorf("%w: unexpected event", pkg.ErrProtocol)
)
