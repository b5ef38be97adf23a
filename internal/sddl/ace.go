package sddl

import (
	"encoding/binary"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/sid"
)

// AceType is the MS-DTYP ACE_HEADER AceType value.
type AceType byte

// ACE types this evaluator distinguishes. Every other on-wire type is
// parsed generically and ignored during evaluation (spec §4.2: "All other
// ACE types: no effect").
const (
	AceTypeAccessAllowed       AceType = 0x00
	AceTypeAccessDenied        AceType = 0x01
	AceTypeAccessAllowedObject AceType = 0x05
	AceTypeAccessDeniedObject  AceType = 0x06
)

const (
	objectTypePresent          uint32 = 0x1
	inheritedObjectTypePresent uint32 = 0x2
)

// ACE is a single discretionary/system ACL entry. ObjectType and
// InheritedObjectType are non-nil only for the Object ACE variants and only
// when their corresponding presence flag was set on the wire.
type ACE struct {
	Type                AceType
	Flags               byte
	Mask                uint32
	ObjectType          *GUID
	InheritedObjectType *GUID
	Subject             sid.SID
}

// parseACE reads one self-describing ACE from buf (which must start
// exactly at the ACE's AceType byte) and returns it plus the number of
// bytes consumed (the ACE's own AceSize field, which callers use to
// advance to the next entry).
func parseACE(buf []byte) (ACE, int, error) {
	if len(buf) < 4 {
		return ACE{}, 0, trace.BadParameter("sddl: ace header truncated")
	}
	aceType := AceType(buf[0])
	flags := buf[1]
	size := int(binary.LittleEndian.Uint16(buf[2:4]))
	if size < 4 || size > len(buf) {
		return ACE{}, 0, trace.BadParameter("sddl: ace size %d out of bounds (buf=%d)", size, len(buf))
	}
	body := buf[4:size]

	ace := ACE{Type: aceType, Flags: flags}

	switch aceType {
	case AceTypeAccessAllowed, AceTypeAccessDenied:
		if len(body) < 4 {
			return ACE{}, 0, trace.BadParameter("sddl: ace body truncated")
		}
		ace.Mask = binary.LittleEndian.Uint32(body[0:4])
		s, err := sid.FromBytes(body[4:])
		if err != nil {
			return ACE{}, 0, trace.Wrap(err, "sddl: ace subject sid")
		}
		ace.Subject = s

	case AceTypeAccessAllowedObject, AceTypeAccessDeniedObject:
		if len(body) < 8 {
			return ACE{}, 0, trace.BadParameter("sddl: object ace body truncated")
		}
		ace.Mask = binary.LittleEndian.Uint32(body[0:4])
		objFlags := binary.LittleEndian.Uint32(body[4:8])
		off := 8
		if objFlags&objectTypePresent != 0 {
			if len(body) < off+16 {
				return ACE{}, 0, trace.BadParameter("sddl: object ace missing object type guid")
			}
			var g GUID
			copy(g[:], body[off:off+16])
			ace.ObjectType = &g
			off += 16
		}
		if objFlags&inheritedObjectTypePresent != 0 {
			if len(body) < off+16 {
				return ACE{}, 0, trace.BadParameter("sddl: object ace missing inherited object type guid")
			}
			var g GUID
			copy(g[:], body[off:off+16])
			ace.InheritedObjectType = &g
			off += 16
		}
		s, err := sid.FromBytes(body[off:])
		if err != nil {
			return ACE{}, 0, trace.Wrap(err, "sddl: object ace subject sid")
		}
		ace.Subject = s

	default:
		// Unknown/ignored ACE type for this evaluator's purposes: still
		// validated for size but not interpreted further.
	}

	return ace, size, nil
}
