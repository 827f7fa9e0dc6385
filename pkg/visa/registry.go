package visa

import (
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/address"
	"github.com/OpenTraceLab/OpenTraceVISA/pkg/usbtmc"
)

// Factory opens a connector for a resolved address. It is the only place a
// physical connection is established.
type Factory func(res address.Resolved) (Connector, error)

// Registry maps interface kinds to connector factories. Adding a transport
// means registering its address spec and factory; neither the resolver nor
// Instrument change.
type Registry struct {
	resolver *address.Resolver

	mu        sync.RWMutex
	factories map[address.InterfaceKind]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		resolver:  address.NewResolver(),
		factories: make(map[address.InterfaceKind]Factory),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the process-wide registry used by Connect. It knows
// the USB transport only.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.Register(address.USBSpec, OpenUSB)
	})
	return defaultRegistry
}

// Register adds or replaces the transport described by spec.
func (r *Registry) Register(spec address.InterfaceSpec, factory Factory) {
	r.resolver.Register(spec)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[spec.Kind] = factory
}

// Kinds lists the interface kinds the registry can resolve.
func (r *Registry) Kinds() []address.InterfaceKind {
	return r.resolver.Kinds()
}

// Resolve parses addr against the registered interface specs.
func (r *Registry) Resolve(addr string) (address.Resolved, error) {
	return r.resolver.Resolve(addr)
}

// Dispatch opens a connector for res using the factory registered for its
// kind. Factory failures are wrapped in ErrTransportConnect.
func (r *Registry) Dispatch(res address.Resolved) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[res.Kind]
	r.mu.RUnlock()
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: no connector registered for %s", ErrUnrecognizedInterface, res.Kind)
	}

	conn, err := factory(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportConnect, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: %s factory returned no connector", ErrTransportConnect, res.Kind)
	}
	return conn, nil
}

// Connect resolves addr, opens the matching connector and wraps it in an
// Instrument. Errors are *ConnectionError.
func (r *Registry) Connect(addr string) (*Instrument, error) {
	res, err := r.Resolve(addr)
	if err != nil {
		return nil, &ConnectionError{Address: addr, Err: err}
	}
	conn, err := r.Dispatch(res)
	if err != nil {
		return nil, &ConnectionError{Address: addr, Err: err}
	}
	return newInstrument(conn, res), nil
}

// Connect opens the instrument at addr using DefaultRegistry.
func Connect(addr string) (*Instrument, error) {
	return DefaultRegistry().Connect(addr)
}

// OpenUSB is the USB factory: it opens a USBTMC client for the parsed vendor,
// product, serial and interface number.
func OpenUSB(res address.Resolved) (Connector, error) {
	c, err := usbtmc.Open(usbtmc.Options{
		VendorID:  res.USB.VendorID,
		ProductID: res.USB.ProductID,
		Serial:    res.USB.Serial,
		Interface: res.USB.Interface,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
