package profile

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// BaseUUID is the Bluetooth base UUID 00000000-0000-1000-8000-00805F9B34FB.
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands a 16-bit assigned number onto the Bluetooth base UUID.
func UUID16(v uint16) uuid.UUID {
	u := BaseUUID
	binary.BigEndian.PutUint16(u[2:4], v)
	return u
}

// Assigned numbers used by the profiles in this module.
var (
	HandsfreeUUID          = UUID16(0x111e)
	CoordinatedSetUUID     = UUID16(0x1846)
	VolumeControlUUID      = UUID16(0x1844)
	PublishedAudioCapsUUID = UUID16(0x1850)

	// CAPContextUUID is the coordinated set type used by LE Audio sets.
	CAPContextUUID = UUID16(0x1853)
)
