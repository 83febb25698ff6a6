package platform

import "github.com/google/uuid"

// GUID is a 128-bit identifier used for attach-type and interface-id
// values throughout the runtime (hook identity, provider/client
// rendezvous). It is backed by a standard, version-4 random UUID.
type GUID = uuid.UUID

// NewGUID generates a new random (version 4) GUID.
func NewGUID() GUID {
	return uuid.New()
}

// ParseGUID parses a canonical string form GUID.
func ParseGUID(s string) (GUID, error) {
	return uuid.Parse(s)
}

// NilGUID is the all-zero GUID, used as an explicit "unset" sentinel.
var NilGUID = uuid.Nil
