package ebpfcore

import (
	"encoding/binary"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/dispatcher"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/mapengine"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/objects"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/program"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// mapDefinitionWireSize mirrors ebpf_map_definition_t: five
// little-endian uint32 fields (size, type, key_size, value_size,
// max_entries).
const mapDefinitionWireSize = 20

func parseMapDefinition(body []byte) (mapengine.Definition, error) {
	if len(body) < mapDefinitionWireSize {
		return mapengine.Definition{}, status.New("CREATE_MAP", status.InvalidParameter, "truncated map definition")
	}
	return mapengine.Definition{
		Type:       mapengine.Type(binary.LittleEndian.Uint32(body[4:8])),
		KeySize:    binary.LittleEndian.Uint32(body[8:12]),
		ValueSize:  binary.LittleEndian.Uint32(body[12:16]),
		MaxEntries: binary.LittleEndian.Uint32(body[16:20]),
	}, nil
}

func putHandle(h objects.Handle) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(h))
	return buf
}

func getHandle(body []byte) (objects.Handle, error) {
	if len(body) < 8 {
		return objects.InvalidHandle, status.New("OP", status.InvalidParameter, "truncated handle")
	}
	return objects.Handle(binary.LittleEndian.Uint64(body)), nil
}

// registerHandlers wires every wire operation id to a Runtime method,
// enforcing each operation's minimum request size before the handler
// ever runs (spec §4.H).
func (rt *Runtime) registerHandlers() {
	rt.dispatcher.Register(dispatcher.OpEvidence, 4, 4, func([]byte) ([]byte, error) {
		return make([]byte, 4), nil
	})

	rt.dispatcher.Register(dispatcher.OpResolveHelper, 8, 8, func(body []byte) ([]byte, error) {
		id := binary.LittleEndian.Uint32(body[0:4])
		addr := make([]byte, 8)
		binary.LittleEndian.PutUint64(addr, uint64(id))
		return addr, nil
	})

	rt.dispatcher.Register(dispatcher.OpResolveMap, 12, 8, func(body []byte) ([]byte, error) {
		h := objects.Handle(binary.LittleEndian.Uint64(body[0:8]))
		if _, err := rt.lookupMap(h); err != nil {
			return nil, err
		}
		addr := make([]byte, 8)
		binary.LittleEndian.PutUint64(addr, uint64(h))
		return addr, nil
	})

	rt.dispatcher.Register(dispatcher.OpCreateMap, 4+mapDefinitionWireSize, 8, func(body []byte) ([]byte, error) {
		def, err := parseMapDefinition(body)
		if err != nil {
			return nil, err
		}
		h, err := rt.CreateMap(def)
		if err != nil {
			return nil, err
		}
		return putHandle(h), nil
	})

	rt.dispatcher.Register(dispatcher.OpLoadCode, 4+1, 8, func(body []byte) ([]byte, error) {
		h, err := rt.LoadProgram(body, program.ModeInterpret)
		if err != nil {
			return nil, err
		}
		return putHandle(h), nil
	})

	rt.dispatcher.Register(dispatcher.OpUnloadCode, 4+8, 0, func(body []byte) ([]byte, error) {
		h, err := getHandle(body)
		if err != nil {
			return nil, err
		}
		return nil, rt.UnloadProgram(h)
	})

	rt.dispatcher.Register(dispatcher.OpAttachCode, 4+8+4, 0, func(body []byte) ([]byte, error) {
		h, err := getHandle(body)
		if err != nil {
			return nil, err
		}
		hookID := binary.LittleEndian.Uint32(body[8:12])
		return nil, rt.AttachProgram(hookNameForID(hookID), h)
	})

	rt.dispatcher.Register(dispatcher.OpDetachCode, 4+8+4, 0, func(body []byte) ([]byte, error) {
		h, err := getHandle(body)
		if err != nil {
			return nil, err
		}
		hookID := binary.LittleEndian.Uint32(body[8:12])
		return nil, rt.DetachProgram(hookNameForID(hookID), h)
	})

	rt.dispatcher.Register(dispatcher.OpMapLookupElement, 4+8+1, 1, func(body []byte) ([]byte, error) {
		h, err := getHandle(body)
		if err != nil {
			return nil, err
		}
		return rt.MapLookup(h, body[8:])
	})

	rt.dispatcher.Register(dispatcher.OpMapUpdateElement, 4+8+1, 0, func(body []byte) ([]byte, error) {
		h, err := getHandle(body)
		if err != nil {
			return nil, err
		}
		m, err := rt.lookupMap(h)
		if err != nil {
			return nil, err
		}
		def := m.Definition()
		rest := body[8:]
		if uint32(len(rest)) < def.KeySize+def.ValueSize {
			return nil, status.New("MAP_UPDATE_ELEMENT", status.InvalidParameter, "truncated key/value")
		}
		key := rest[:def.KeySize]
		value := rest[def.KeySize : def.KeySize+def.ValueSize]
		return nil, m.Update(key, value)
	})

	rt.dispatcher.Register(dispatcher.OpMapDeleteElement, 4+8+1, 0, func(body []byte) ([]byte, error) {
		h, err := getHandle(body)
		if err != nil {
			return nil, err
		}
		return nil, rt.MapDelete(h, body[8:])
	})
}

// hookNameForID maps the wire protocol's numeric hook identifier to
// the runtime's string hook names. Supplemented beyond the
// distilled protocol, which left hook naming unspecified.
func hookNameForID(id uint32) string {
	switch id {
	case 0:
		return HookXDP
	case 1:
		return HookBindMonitor
	default:
		return ""
	}
}
