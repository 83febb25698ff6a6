package ebpfcore

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/dispatcher"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/hooks"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/mapengine"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/objects"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// TestRuntime_DropPacketHook exercises S1: an XDP-like hook with no
// program attached passes traffic (default action), then a loaded
// and attached program's verdict takes over, and detaching restores
// the default.
func TestRuntime_DropPacketHook(t *testing.T) {
	engine := NewTestEngine(func(ctx []byte) (uint32, error) { return ActionDeny, nil })
	rt := NewRuntime(engine)
	rt.RegisterHook(HookXDP, hooks.LastWins, ActionAllow)

	result, err := rt.InvokeHook(HookXDP, []byte("packet"))
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, result)

	h, err := rt.LoadProgram([]byte{0x90}, ModeInterpret)
	require.NoError(t, err)

	require.NoError(t, rt.AttachProgram(HookXDP, h))
	result, err = rt.InvokeHook(HookXDP, []byte("packet"))
	require.NoError(t, err)
	assert.Equal(t, ActionDeny, result)

	require.NoError(t, rt.DetachProgram(HookXDP, h))
	result, err = rt.InvokeHook(HookXDP, []byte("packet"))
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, result)

	require.NoError(t, rt.UnloadProgram(h))
}

// TestRuntime_BindMonitorVeto exercises S2: a bind-monitor-style hook
// where multiple attached programs vote and any denial wins.
func TestRuntime_BindMonitorVeto(t *testing.T) {
	allowAll := NewTestEngine(func([]byte) (uint32, error) { return ActionAllow, nil })
	rt := NewRuntime(allowAll)
	rt.RegisterHook(HookBindMonitor, hooks.MostRestrictive, ActionAllow)

	limitsMap, err := rt.CreateMap(mapengine.Definition{Type: mapengine.TypeHash, KeySize: 2, ValueSize: 1, MaxEntries: 4})
	require.NoError(t, err)
	bannedPort := []byte{0x50, 0x00}
	require.NoError(t, rt.MapUpdate(limitsMap, bannedPort, []byte{1}))

	policeEngine := NewTestEngine(func(ctx []byte) (uint32, error) {
		if _, err := rt.MapLookup(limitsMap, ctx); err == nil {
			return ActionDeny, nil
		}
		return ActionAllow, nil
	})

	h1, err := rt.LoadProgram([]byte{0x90}, ModeInterpret)
	require.NoError(t, err)
	require.NoError(t, rt.AttachProgram(HookBindMonitor, h1))

	// Swap in the policing engine's program directly via its own
	// engine so both programs can be attached to the same hook.
	rt.engine = policeEngine
	h2, err := rt.LoadProgram([]byte{0x90}, ModeInterpret)
	require.NoError(t, err)
	require.NoError(t, rt.AttachProgram(HookBindMonitor, h2))

	result, err := rt.InvokeHook(HookBindMonitor, []byte{0x22, 0x00})
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, result, "no program denies an unlisted port")

	result, err = rt.InvokeHook(HookBindMonitor, bannedPort)
	require.NoError(t, err)
	assert.Equal(t, ActionDeny, result, "the policing program vetoes the banned port")
}

// TestRuntime_PinRefCounts exercises S3: pinning a map and resolving
// it back by name mints a fresh handle sharing the same underlying
// object, and every release drops the refcount symmetrically.
func TestRuntime_PinRefCounts(t *testing.T) {
	engine := NewTestEngine(func([]byte) (uint32, error) { return ActionAllow, nil })
	rt := NewRuntime(engine)

	h, err := rt.CreateMap(mapengine.Definition{Type: mapengine.TypeArray, KeySize: 4, ValueSize: 4, MaxEntries: 4})
	require.NoError(t, err)

	require.NoError(t, rt.Pin([]byte("/counters"), h))

	found, err := rt.FindPinned([]byte("/counters"))
	require.NoError(t, err)
	assert.NotEqual(t, objects.InvalidHandle, found)

	require.NoError(t, rt.Unpin([]byte("/counters")))

	_, err = rt.FindPinned([]byte("/counters"))
	assert.Error(t, err)

	require.NoError(t, rt.Objects.Close(found))
	require.NoError(t, rt.Objects.Close(h))
}

// TestRuntime_ListPrograms exercises S4: enumerating every loaded
// program handle.
func TestRuntime_ListPrograms(t *testing.T) {
	engine := NewTestEngine(func([]byte) (uint32, error) { return ActionAllow, nil })
	rt := NewRuntime(engine)

	h1, err := rt.LoadProgram([]byte{0x90}, ModeInterpret)
	require.NoError(t, err)
	h2, err := rt.LoadProgram([]byte{0x90}, ModeInterpret)
	require.NoError(t, err)

	all := rt.ListPrograms()
	assert.ElementsMatch(t, []objects.Handle{h1, h2}, all)
}

// TestRuntime_DispatchEndToEnd exercises the wire boundary: create a
// map, update an element, and look it back up, all through Dispatch.
func TestRuntime_DispatchEndToEnd(t *testing.T) {
	engine := NewTestEngine(func([]byte) (uint32, error) { return ActionAllow, nil })
	rt := NewRuntime(engine)

	def := make([]byte, mapDefinitionWireSize)
	binary.LittleEndian.PutUint32(def[4:8], uint32(mapengine.TypeHash))
	binary.LittleEndian.PutUint32(def[8:12], 2)
	binary.LittleEndian.PutUint32(def[12:16], 2)
	binary.LittleEndian.PutUint32(def[16:20], 4)

	createReply := rt.Dispatch(dispatcher.EncodeRequest(dispatcher.OpCreateMap, def))
	_, code, body, err := dispatcher.DecodeReply(createReply)
	require.NoError(t, err)
	require.Equal(t, status.Success, code)
	h := objects.Handle(binary.LittleEndian.Uint64(body))

	updateBody := append(putHandle(h), []byte{0xAA, 0xBB, 0x01, 0x02}...)
	updateReply := rt.Dispatch(dispatcher.EncodeRequest(dispatcher.OpMapUpdateElement, updateBody))
	_, code, _, err = dispatcher.DecodeReply(updateReply)
	require.NoError(t, err)
	assert.Equal(t, status.Success, code)

	lookupBody := append(putHandle(h), []byte{0xAA, 0xBB}...)
	lookupReply := rt.Dispatch(dispatcher.EncodeRequest(dispatcher.OpMapLookupElement, lookupBody))
	_, code, value, err := dispatcher.DecodeReply(lookupReply)
	require.NoError(t, err)
	assert.Equal(t, status.Success, code)
	assert.Equal(t, []byte{0x01, 0x02}, value)
}

// TestRuntime_AttachCreatesLinkAndExtensionClient confirms attach wires
// through the extension registry and a LINK object rather than just
// the hook's own client list (spec §4.F, §4.G step 2).
func TestRuntime_AttachCreatesLinkAndExtensionClient(t *testing.T) {
	engine := NewTestEngine(func([]byte) (uint32, error) { return ActionAllow, nil })
	rt := NewRuntime(engine)
	rt.RegisterHook(HookXDP, hooks.LastWins, ActionAllow)

	h, err := rt.LoadProgram([]byte{0x90}, ModeInterpret)
	require.NoError(t, err)

	kind := objects.KindProgram
	progObj, err := rt.Objects.Resolve(h, &kind)
	require.NoError(t, err)
	before := progObj.RefCount()

	require.NoError(t, rt.AttachProgram(HookXDP, h))
	assert.Equal(t, before+1, progObj.RefCount(), "the link holds its own reference to the program")

	key := attachment{hook: HookXDP, program: h}
	entry, ok := rt.links[key]
	require.True(t, ok, "attach records a link entry")
	assert.NotEqual(t, objects.InvalidHandle, entry.linkHandle)

	require.NoError(t, rt.DetachProgram(HookXDP, h))
	assert.Equal(t, before, progObj.RefCount(), "detach releases the link's reference")

	_, ok = rt.links[key]
	assert.False(t, ok, "detach removes the link entry")
}

// TestRuntime_UnloadBusyWhileAttached confirms UnloadProgram surfaces
// status.Busy for a program still attached somewhere.
func TestRuntime_UnloadBusyWhileAttached(t *testing.T) {
	engine := NewTestEngine(func([]byte) (uint32, error) { return ActionAllow, nil })
	rt := NewRuntime(engine)
	rt.RegisterHook(HookXDP, hooks.LastWins, ActionAllow)

	h, err := rt.LoadProgram([]byte{0x90}, ModeInterpret)
	require.NoError(t, err)
	require.NoError(t, rt.AttachProgram(HookXDP, h))

	err = rt.UnloadProgram(h)
	assert.Equal(t, status.Busy, status.CodeOf(err))
}
