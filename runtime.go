package ebpfcore

import (
	"sync"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/dispatcher"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/epoch"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/extension"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/hooks"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/logging"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/mapengine"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/objects"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/pinning"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/platform"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/program"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// Runtime bundles one instance of every subsystem -- handle table,
// epoch reclamation, pinning namespace, extension registry, program
// engine, named hooks, and the wire dispatcher -- into the unit a
// caller loads and attaches programs against. Multiple Runtimes can
// coexist in one process (spec §9): each owns its own epoch and
// object namespace, so they never contend with each other.
type Runtime struct {
	Epoch      *epoch.Manager
	Objects    *objects.Table
	Pins       *pinning.Table
	Extensions *extension.Registry
	Metrics    *Metrics
	Observer   Observer

	engine     *program.Engine
	dispatcher *dispatcher.Dispatcher

	mu        sync.Mutex
	maps      map[objects.Handle]mapengine.Map
	programs  map[objects.Handle]*program.Program
	hookList  map[string]*hooks.Hook
	hookIface map[string]extension.InterfaceID
	links     map[attachment]*linkEntry
}

// attachment names one program's attachment to one hook -- the key a
// Link is filed under, so DetachProgram can find it again.
type attachment struct {
	hook    string
	program objects.Handle
}

// linkEntry is the bookkeeping a Link object needs torn down on
// detach: the extension client record it registered, and the handle
// to the Link object itself.
type linkEntry struct {
	client     extension.ClientHandle
	linkHandle objects.Handle
}

// NewRuntime builds a Runtime whose program engine is wired with the
// given collaborators (verifier, relocation enumerator, compiler, and
// helper/map resolvers).
func NewRuntime(engine *program.Engine) *Runtime {
	rt := &Runtime{
		Epoch:      epoch.New(),
		Objects:    objects.NewTable(),
		Pins:       pinning.NewTable(),
		Extensions: extension.NewRegistry(),
		Metrics:    NewMetrics(),
		Observer:   NoOpObserver{},
		engine:     engine,
		dispatcher: dispatcher.New(),
		maps:       make(map[objects.Handle]mapengine.Map),
		programs:   make(map[objects.Handle]*program.Program),
		hookList:   make(map[string]*hooks.Hook),
		hookIface:  make(map[string]extension.InterfaceID),
		links:      make(map[attachment]*linkEntry),
	}
	rt.Observer = NewMetricsObserver(rt.Metrics)
	if engine != nil {
		engine.Reclaimer = rt.Epoch
	}
	rt.registerHandlers()
	logging.Default().Info("runtime initialized")
	return rt
}

// RegisterHook installs a named attach point with the given verdict
// combine rule and default action for when nothing is attached yet.
// The hook doubles as an extension provider (spec §4.F): attaching a
// program to it registers that program as a client of the hook's
// interface id, so rendezvous bookkeeping stays in one place.
func (rt *Runtime) RegisterHook(name string, combine hooks.CombineFunc, defaultAction uint32) *hooks.Hook {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	h := hooks.New(name, rt.Epoch, combine, defaultAction)
	rt.hookList[name] = h

	iface := platform.NewGUID()
	_, err := rt.Extensions.RegisterProvider(iface, extension.DispatchTable{Version: 1}, extension.ProviderHandlers{
		OnClientAttach: func(extension.ClientHandle, extension.DispatchTable) (extension.DispatchTable, error) {
			return extension.DispatchTable{Version: 1}, nil
		},
		OnClientDetach: func(extension.ClientHandle) {},
	})
	if err == nil {
		rt.hookIface[name] = iface
	}
	return h
}

func (rt *Runtime) hook(name string) (*hooks.Hook, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	h, ok := rt.hookList[name]
	if !ok {
		return nil, status.New("ATTACH_CODE", status.NotFound, "no such hook")
	}
	return h, nil
}

// InvokeHook runs every program attached to name against ctx, using a
// fresh thread state for the call's epoch section.
func (rt *Runtime) InvokeHook(name string, ctx []byte) (uint32, error) {
	h, err := rt.hook(name)
	if err != nil {
		return 0, err
	}
	ts := rt.Epoch.NewThreadState()
	result, err := h.Invoke(ts, ctx)
	rt.Observer.ObserveHookInvocation(name)
	return result, err
}

// CreateMap allocates a new map of the given shape and returns its
// handle.
func (rt *Runtime) CreateMap(def mapengine.Definition) (objects.Handle, error) {
	m, err := mapengine.New(def, rt.Epoch)
	if err != nil {
		return objects.InvalidHandle, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	kind := objects.KindMap
	obj := objects.New(kind, func() {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		rt.Metrics.ObjectsDestroyed.Add(1)
	})
	h := rt.Objects.Allocate(obj)
	rt.maps[h] = m
	rt.Metrics.ObjectsCreated.Add(1)
	rt.Metrics.MapsCreated.Add(1)
	return h, nil
}

func (rt *Runtime) lookupMap(h objects.Handle) (mapengine.Map, error) {
	kind := objects.KindMap
	if _, err := rt.Objects.Resolve(h, &kind); err != nil {
		return nil, status.Wrap("MAP_OP", status.InvalidHandle, err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	m, ok := rt.maps[h]
	if !ok {
		return nil, status.New("MAP_OP", status.InvalidHandle, "handle is not a map")
	}
	return m, nil
}

func (rt *Runtime) MapLookup(h objects.Handle, key []byte) ([]byte, error) {
	m, err := rt.lookupMap(h)
	if err != nil {
		return nil, err
	}
	return m.Lookup(key)
}

func (rt *Runtime) MapUpdate(h objects.Handle, key, value []byte) error {
	m, err := rt.lookupMap(h)
	if err != nil {
		return err
	}
	return m.Update(key, value)
}

func (rt *Runtime) MapDelete(h objects.Handle, key []byte) error {
	m, err := rt.lookupMap(h)
	if err != nil {
		return err
	}
	return m.Delete(key)
}

func (rt *Runtime) MapNextKey(h objects.Handle, prev []byte) ([]byte, error) {
	m, err := rt.lookupMap(h)
	if err != nil {
		return nil, err
	}
	return m.NextKey(prev)
}

// LoadProgram verifies, relocates, and compiles code, returning a
// handle to the resulting program in StateLoaded.
func (rt *Runtime) LoadProgram(code []byte, mode program.Mode) (objects.Handle, error) {
	p, err := rt.engine.Load(code, mode)
	if err != nil {
		return objects.InvalidHandle, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	kind := objects.KindProgram
	obj := objects.New(kind, func() {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		rt.Metrics.ObjectsDestroyed.Add(1)
	})
	h := rt.Objects.Allocate(obj)
	rt.programs[h] = p
	rt.Metrics.ObjectsCreated.Add(1)
	rt.Metrics.ProgramsLoaded.Add(1)
	return h, nil
}

func (rt *Runtime) lookupProgram(h objects.Handle) (*program.Program, error) {
	kind := objects.KindProgram
	if _, err := rt.Objects.Resolve(h, &kind); err != nil {
		return nil, status.Wrap("PROGRAM_OP", status.InvalidHandle, err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	p, ok := rt.programs[h]
	if !ok {
		return nil, status.New("PROGRAM_OP", status.InvalidHandle, "handle is not a program")
	}
	return p, nil
}

// UnloadProgram tears down a program's executor. Fails status.Busy if
// it is still attached anywhere.
func (rt *Runtime) UnloadProgram(h objects.Handle) error {
	p, err := rt.lookupProgram(h)
	if err != nil {
		return err
	}
	if err := rt.engine.Unload(p); err != nil {
		return err
	}
	return rt.Objects.Close(h)
}

// AttachProgram attaches the program named by h to the named hook:
// registers the program as an extension client of the hook's provider
// interface (spec §4.F), then creates a LINK object holding a
// reference to the program for as long as the attachment lives (spec
// §4.G step 2).
func (rt *Runtime) AttachProgram(hookName string, h objects.Handle) error {
	p, err := rt.lookupProgram(h)
	if err != nil {
		return err
	}
	hk, err := rt.hook(hookName)
	if err != nil {
		return err
	}

	kind := objects.KindProgram
	progObj, err := rt.Objects.Resolve(h, &kind)
	if err != nil {
		return status.Wrap("ATTACH_CODE", status.InvalidHandle, err)
	}

	rt.mu.Lock()
	iface, ok := rt.hookIface[hookName]
	rt.mu.Unlock()
	if !ok {
		return status.New("ATTACH_CODE", status.InvalidState, "hook has no extension interface registered")
	}

	client, err := rt.Extensions.RegisterClient(iface, extension.DispatchTable{Version: 1}, extension.ClientHandlers{})
	if err != nil {
		return status.Wrap("ATTACH_CODE", status.ExtensionFailedToLoad, err)
	}

	if err := p.Attach(); err != nil {
		_ = rt.Extensions.DeregisterClient(client)
		return err
	}
	hk.Attach(p)

	progObj.AcquireReference()
	linkObj := objects.New(objects.KindLink, func() {
		progObj.ReleaseReference()
		rt.mu.Lock()
		rt.Metrics.ObjectsDestroyed.Add(1)
		rt.mu.Unlock()
	})
	linkHandle := rt.Objects.Allocate(linkObj)

	rt.mu.Lock()
	rt.links[attachment{hook: hookName, program: h}] = &linkEntry{client: client, linkHandle: linkHandle}
	rt.mu.Unlock()

	rt.Metrics.ObjectsCreated.Add(1)
	rt.Metrics.ProgramsAttached.Add(1)
	return nil
}

// DetachProgram detaches the program named by h from the named hook,
// tearing down the LINK object and the extension client record
// AttachProgram created for it.
func (rt *Runtime) DetachProgram(hookName string, h objects.Handle) error {
	p, err := rt.lookupProgram(h)
	if err != nil {
		return err
	}
	hk, err := rt.hook(hookName)
	if err != nil {
		return err
	}

	key := attachment{hook: hookName, program: h}
	rt.mu.Lock()
	entry, ok := rt.links[key]
	rt.mu.Unlock()
	if !ok {
		return status.New("DETACH_CODE", status.NotFound, "program is not attached to this hook")
	}

	if err := hk.Detach(p); err != nil {
		return err
	}
	if err := p.Detach(); err != nil {
		return err
	}

	_ = rt.Extensions.DeregisterClient(entry.client)
	_ = rt.Objects.Close(entry.linkHandle)

	rt.mu.Lock()
	delete(rt.links, key)
	rt.mu.Unlock()
	return nil
}

// Pin publishes the object named by h under name.
func (rt *Runtime) Pin(name []byte, h objects.Handle) error {
	obj, err := rt.Objects.Resolve(h, nil)
	if err != nil {
		return status.Wrap("PIN", status.InvalidHandle, err)
	}
	return rt.Pins.Insert(name, obj)
}

// Unpin removes name from the pinning namespace.
func (rt *Runtime) Unpin(name []byte) error {
	return rt.Pins.Delete(name)
}

// FindPinned mints a fresh handle for the object currently pinned
// under name.
func (rt *Runtime) FindPinned(name []byte) (objects.Handle, error) {
	obj, err := rt.Pins.Find(name)
	if err != nil {
		return objects.InvalidHandle, status.Wrap("RESOLVE_MAP", status.NotFound, err)
	}
	// Find already bumped the refcount once, on this new handle's
	// behalf; Allocate takes ownership of that reference directly.
	h := rt.Objects.Allocate(obj)
	return h, nil
}

// ListPrograms enumerates every currently loaded or attached program
// handle -- the in-process analogue of the original netsh program
// enumeration.
func (rt *Runtime) ListPrograms() []objects.Handle {
	var out []objects.Handle
	kind := objects.KindProgram
	h := rt.Objects.Next(objects.InvalidHandle, &kind)
	for h != objects.InvalidHandle {
		out = append(out, h)
		h = rt.Objects.Next(h, &kind)
	}
	return out
}

// Flush advances epoch-based reclamation, freeing anything retired
// before the oldest still-active reader's epoch.
func (rt *Runtime) Flush() int {
	freed := rt.Epoch.Flush()
	rt.Metrics.EpochFlushes.Add(1)
	rt.Metrics.EpochFreed.Add(uint64(freed))
	return freed
}

// Dispatch routes one wire request through the registered operation
// table and reports the outcome to Observer. See internal/dispatcher
// for the validation contract.
func (rt *Runtime) Dispatch(request []byte) []byte {
	reply := rt.dispatcher.Dispatch(request)
	if header, code, _, err := dispatcher.DecodeReply(reply); err == nil {
		rt.Observer.ObserveDispatch(uint16(header.ID), code == status.Success)
	}
	return reply
}
