// Package extension implements the provider/client rendezvous that lets
// one component (a provider) publish a versioned function table under
// an interface id, and another (a client) bind to it without either
// side needing to know the other's registration order.
package extension

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/platform"
)

// InterfaceID names a provider/client contract, e.g. "the helper
// resolution interface" or "the XDP hook interface".
type InterfaceID = platform.GUID

type ProviderHandle uint64
type ClientHandle uint64

var (
	ErrAlreadyExists   = errors.New("extension: provider already registered for this interface")
	ErrUnknownProvider = errors.New("extension: no such provider handle")
	ErrUnknownClient   = errors.New("extension: no such client handle")
)

// DispatchTable is the versioned function table exchanged at attach
// time. Version lets either side refuse an incompatible peer before
// calling into Functions.
type DispatchTable struct {
	Version   uint32
	Functions map[string]any
}

// ProviderHandlers are invoked as clients attach to and detach from a
// provider already registered.
type ProviderHandlers struct {
	OnClientAttach func(client ClientHandle, clientDispatch DispatchTable) (providerDispatch DispatchTable, err error)
	OnClientDetach func(client ClientHandle)
}

// ClientHandlers are invoked when the provider side of an attachment
// changes out from under the client.
type ClientHandlers struct {
	OnProviderAttach func(provider ProviderHandle, providerDispatch DispatchTable) error
	OnProviderDetach func(provider ProviderHandle)
}

type providerEntry struct {
	handle   ProviderHandle
	iface    InterfaceID
	dispatch DispatchTable
	handlers ProviderHandlers
	clients  map[ClientHandle]*clientEntry
}

type clientEntry struct {
	handle   ClientHandle
	iface    InterfaceID
	dispatch DispatchTable
	handlers ClientHandlers
	provider *providerEntry
}

// Registry is the process-wide rendezvous point: one provider per
// interface id, any number of clients, matched as each side appears.
type Registry struct {
	mu             sync.Mutex
	nextHandle     atomic.Uint64
	providersByID  map[InterfaceID]*providerEntry
	providersByH   map[ProviderHandle]*providerEntry
	clientsByH     map[ClientHandle]*clientEntry
	pendingClients map[InterfaceID][]*clientEntry
}

func NewRegistry() *Registry {
	return &Registry{
		providersByID:  make(map[InterfaceID]*providerEntry),
		providersByH:   make(map[ProviderHandle]*providerEntry),
		clientsByH:     make(map[ClientHandle]*clientEntry),
		pendingClients: make(map[InterfaceID][]*clientEntry),
	}
}

func (r *Registry) allocHandle() uint64 {
	return r.nextHandle.Add(1)
}

// RegisterProvider publishes dispatch under iface. Any clients already
// waiting for iface are attached immediately, in registration order.
func (r *Registry) RegisterProvider(iface InterfaceID, dispatch DispatchTable, handlers ProviderHandlers) (ProviderHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providersByID[iface]; exists {
		return 0, ErrAlreadyExists
	}

	entry := &providerEntry{
		handle:   ProviderHandle(r.allocHandle()),
		iface:    iface,
		dispatch: dispatch,
		handlers: handlers,
		clients:  make(map[ClientHandle]*clientEntry),
	}
	r.providersByID[iface] = entry
	r.providersByH[entry.handle] = entry

	for _, c := range r.pendingClients[iface] {
		r.attachLocked(entry, c)
	}
	delete(r.pendingClients, iface)

	return entry.handle, nil
}

// DeregisterProvider detaches every attached client (notifying each)
// and removes the provider from the interface table.
func (r *Registry) DeregisterProvider(h ProviderHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.providersByH[h]
	if !ok {
		return ErrUnknownProvider
	}

	for ch, c := range entry.clients {
		c.provider = nil
		if c.handlers.OnProviderDetach != nil {
			c.handlers.OnProviderDetach(h)
		}
		delete(entry.clients, ch)
	}

	delete(r.providersByID, entry.iface)
	delete(r.providersByH, h)
	return nil
}

// RegisterClient attaches to iface's current provider if one exists,
// or queues the client to attach the moment a provider shows up.
func (r *Registry) RegisterClient(iface InterfaceID, dispatch DispatchTable, handlers ClientHandlers) (ClientHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &clientEntry{
		handle:   ClientHandle(r.allocHandle()),
		iface:    iface,
		dispatch: dispatch,
		handlers: handlers,
	}
	r.clientsByH[entry.handle] = entry

	if provider, ok := r.providersByID[iface]; ok {
		if err := r.attachLocked(provider, entry); err != nil {
			delete(r.clientsByH, entry.handle)
			return 0, err
		}
		return entry.handle, nil
	}

	r.pendingClients[iface] = append(r.pendingClients[iface], entry)
	return entry.handle, nil
}

func (r *Registry) attachLocked(provider *providerEntry, client *clientEntry) error {
	providerDispatch, err := provider.handlers.OnClientAttach(client.handle, client.dispatch)
	if err != nil {
		return err
	}
	if client.handlers.OnProviderAttach != nil {
		if err := client.handlers.OnProviderAttach(provider.handle, providerDispatch); err != nil {
			return err
		}
	}
	client.provider = provider
	provider.clients[client.handle] = client
	return nil
}

// DeregisterClient detaches a client from its provider, if attached,
// and removes it from the registry.
func (r *Registry) DeregisterClient(h ClientHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clientsByH[h]
	if !ok {
		return ErrUnknownClient
	}

	if entry.provider != nil {
		if entry.provider.handlers.OnClientDetach != nil {
			entry.provider.handlers.OnClientDetach(h)
		}
		delete(entry.provider.clients, h)
	} else {
		pending := r.pendingClients[entry.iface]
		for i, c := range pending {
			if c.handle == h {
				r.pendingClients[entry.iface] = append(pending[:i], pending[i+1:]...)
				break
			}
		}
	}

	delete(r.clientsByH, h)
	return nil
}
