package querier

import (
	"time"

	"go.uber.org/zap"

	"github.com/joshuafuller/scout/internal/errors"
	"github.com/joshuafuller/scout/internal/message"
	"github.com/joshuafuller/scout/internal/netif"
)

// Option is a functional option for configuring a Performer. Options
// are applied during New, before the interface table is captured.
type Option func(*Performer) error

// WithInterfaceProvider substitutes the source of local interface
// addresses. The default is the OS interface table; tests and callers
// that restrict discovery to specific interfaces supply a fixed set
// via netif.Static.
func WithInterfaceProvider(provider netif.Provider) Option {
	return func(p *Performer) error {
		if provider == nil {
			return &errors.ValidationError{Field: "provider", Detail: "interface provider cannot be nil"}
		}
		p.provider = provider
		return nil
	}
}

// WithBufferCapacity sets the size of the scratch buffer used for
// encoding queries and receiving replies. The default is 2048 bytes.
// The capacity must at least hold the fixed discovery packet.
func WithBufferCapacity(capacity int) Option {
	return func(p *Performer) error {
		if capacity < message.DiscoveryQueryLen {
			return &errors.ValidationError{Field: "capacity", Detail: "buffer cannot hold a discovery query"}
		}
		p.buf = make([]byte, capacity)
		return nil
	}
}

// WithLogger attaches a logger for debug-level socket lifecycle and
// packet events. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Performer) error {
		if logger == nil {
			return &errors.ValidationError{Field: "logger", Detail: "logger cannot be nil"}
		}
		p.logger = logger
		return nil
	}
}

// WithReceiveTimeout bounds how long a receive waits for a packet. The
// default of zero keeps receives polling, waiting at most a millisecond;
// a longer timeout turns the polling loop into bounded waiting without
// changing the API.
func WithReceiveTimeout(timeout time.Duration) Option {
	return func(p *Performer) error {
		if timeout < 0 {
			return &errors.ValidationError{Field: "timeout", Detail: "receive timeout cannot be negative"}
		}
		p.cfg.ReceiveTimeout = timeout
		return nil
	}
}

// WithStrictCompressionPointers requires name compression pointers in
// replies to point strictly backwards, per RFC 1035 §4.1.4. Off by
// default: some responders in the wild emit forward references, which
// the bounded decoder handles safely either way.
func WithStrictCompressionPointers(enabled bool) Option {
	return func(p *Performer) error {
		p.parseOpts.StrictPointers = enabled
		return nil
	}
}
