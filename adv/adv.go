// Package adv decodes advertising data records into the service UUIDs and
// names an admission check can use.
package adv

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/profile"
)

var ErrEmptyPdu = errors.New("nil/empty pdu")

// https://www.bluetooth.com/specifications/assigned-numbers/generic-access-profile
const (
	typeFlags       = 0x01
	typeUUID16Inc   = 0x02
	typeUUID16Comp  = 0x03
	typeUUID32Inc   = 0x04
	typeUUID32Comp  = 0x05
	typeUUID128Inc  = 0x06
	typeUUID128Comp = 0x07
	typeNameShort   = 0x08
	typeNameComp    = 0x09
	typeTxPower     = 0x0a
	typeSol16       = 0x14
	typeSol128      = 0x15
	typeSvcData16   = 0x16
	typeSol32       = 0x1f
	typeSvcData32   = 0x20
	typeSvcData128  = 0x21
	typeMfgData     = 0xff
)

type field int

const (
	fieldServices field = iota
	fieldSolicited
	fieldServiceData
	fieldName
	fieldTxPower
	fieldFlags
	fieldMfgData
)

type record struct {
	field  field
	uuidSz int // element size of uuid lists, uuid prefix of service data
	minSz  int
}

var records = map[byte]record{
	typeUUID16Inc:   {fieldServices, 2, 2},
	typeUUID16Comp:  {fieldServices, 2, 2},
	typeUUID32Inc:   {fieldServices, 4, 4},
	typeUUID32Comp:  {fieldServices, 4, 4},
	typeUUID128Inc:  {fieldServices, 16, 16},
	typeUUID128Comp: {fieldServices, 16, 16},
	typeSol16:       {fieldSolicited, 2, 2},
	typeSol32:       {fieldSolicited, 4, 4},
	typeSol128:      {fieldSolicited, 16, 16},
	typeSvcData16:   {fieldServiceData, 2, 2},
	typeSvcData32:   {fieldServiceData, 4, 4},
	typeSvcData128:  {fieldServiceData, 16, 16},
	typeNameShort:   {fieldName, 0, 1},
	typeNameComp:    {fieldName, 0, 1},
	typeTxPower:     {fieldTxPower, 0, 1},
	typeFlags:       {fieldFlags, 0, 1},
	typeMfgData:     {fieldMfgData, 0, 1},
}

// Data is the decoded content of an advertisement and its scan response.
type Data struct {
	Flags       byte
	LocalName   string
	TxPower     int8
	HasTxPower  bool
	Services    []uuid.UUID
	Solicited   []uuid.UUID
	ServiceData map[uuid.UUID][][]byte
	MfgData     []byte
}

// HasService reports whether u is advertised as a service.
func (d *Data) HasService(u uuid.UUID) bool {
	for _, v := range d.Services {
		if v == u {
			return true
		}
	}
	return false
}

// decodeUUID expands a little endian 2, 4 or 16 byte uuid.
func decodeUUID(b []byte) (uuid.UUID, error) {
	switch len(b) {
	case 2:
		return profile.UUID16(binary.LittleEndian.Uint16(b)), nil
	case 4:
		u := profile.BaseUUID
		binary.BigEndian.PutUint32(u[0:4], binary.LittleEndian.Uint32(b))
		return u, nil
	case 16:
		var u uuid.UUID
		for i := range b {
			u[i] = b[len(b)-1-i]
		}
		return u, nil
	}
	return uuid.Nil, fmt.Errorf("invalid uuid length %d", len(b))
}

func uuidList(size int, b []byte) ([]uuid.UUID, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size")
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("nil/empty bytes")
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("incorrect size")
	}

	out := make([]uuid.UUID, 0, len(b)/size)
	for j := 0; j < len(b); j += size {
		u, err := decodeUUID(b[j : j+size])
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Parse decodes the records of pdu. On a malformed record it returns what was
// decoded before it along with the error.
func Parse(pdu []byte) (*Data, error) {
	if len(pdu) == 0 {
		return nil, ErrEmptyPdu
	}

	d := &Data{}
	for i := 0; i+1 < len(pdu); {
		// length, type, length-1 bytes of data
		length := int(pdu[i])
		typ := pdu[i+1]

		if length < 1 {
			return d, fmt.Errorf("invalid record length %v, idx %v", length, i)
		}
		if i+length >= len(pdu) {
			return d, fmt.Errorf("buffer overflow: want %v, have %v, idx %v", i+length, len(pdu), i)
		}

		b := pdu[i+2 : i+1+length]
		if rec, ok := records[typ]; ok && len(b) != 0 {
			if rec.minSz > len(b) {
				return d, fmt.Errorf("adv type %#x: min length %v, have %v, idx %v", typ, rec.minSz, len(b), i)
			}
			if err := d.add(rec, b); err != nil {
				return d, errors.Wrapf(err, "adv type %#x, idx %v", typ, i)
			}
		}

		i += length + 1
	}
	return d, nil
}

func (d *Data) add(rec record, b []byte) error {
	switch rec.field {
	case fieldServices, fieldSolicited:
		uu, err := uuidList(rec.uuidSz, b)
		if err != nil {
			return err
		}
		if rec.field == fieldServices {
			d.Services = append(d.Services, uu...)
		} else {
			d.Solicited = append(d.Solicited, uu...)
		}

	case fieldServiceData:
		u, err := decodeUUID(b[:rec.uuidSz])
		if err != nil {
			return err
		}
		if d.ServiceData == nil {
			d.ServiceData = make(map[uuid.UUID][][]byte)
		}
		d.ServiceData[u] = append(d.ServiceData[u], append([]byte(nil), b[rec.uuidSz:]...))

	case fieldName:
		d.LocalName = string(b)

	case fieldTxPower:
		d.TxPower = int8(b[0])
		d.HasTxPower = true

	case fieldFlags:
		d.Flags = b[0]

	case fieldMfgData:
		if d.MfgData == nil {
			d.MfgData = append([]byte(nil), b...)
		} else if len(b) > 2 {
			// the scan response repeats the company id
			d.MfgData = append(d.MfgData, b[2:]...)
		}
	}
	return nil
}
