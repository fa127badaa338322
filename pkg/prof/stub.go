//go:build !profile

package prof

// Enabled reports whether profiling is compiled in.
const Enabled = false

// Session records nothing without the "profile" build tag.
type Session struct{}

// Start returns an inert session.
func Start(Options) (*Session, error) { return &Session{}, nil }

// Stop does nothing.
func (*Session) Stop() error { return nil }
