package sddl

import (
	"encoding/binary"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/sid"
)

// selfRelative is the SE_SELF_RELATIVE control bit (MS-DTYP 2.4.6); this
// evaluator only ever supports the self-relative on-wire layout (spec
// §4.2: "Rejects non-self-relative descriptors").
const selfRelative uint16 = 0x8000

// ACL is an ordered sequence of ACEs, as stored in a DACL or SACL.
type ACL struct {
	Revision byte
	ACEs     []ACE
}

// SecurityDescriptor is the self-relative MS-DTYP security descriptor: a
// control-flag word plus an owner SID, a group SID, and optional SACL/DACL.
type SecurityDescriptor struct {
	Control uint16
	Owner   sid.SID
	Group   sid.SID
	SACL    *ACL
	DACL    *ACL
}

// Parse decodes a self-relative security descriptor from its on-wire
// binary form (as stored in nTSecurityDescriptor). Layout per MS-DTYP
// 2.4.6: revision (1 byte), Sbz1 (1 byte), Control (2 bytes LE), then four
// little-endian uint32 offsets (owner, group, SACL, DACL) from the start
// of the buffer.
func Parse(buf []byte) (*SecurityDescriptor, error) {
	if len(buf) < 20 {
		return nil, trace.BadParameter("sddl: security descriptor header truncated (%d bytes)", len(buf))
	}
	revision := buf[0]
	if revision != 1 {
		return nil, trace.BadParameter("sddl: unsupported security descriptor revision %d", revision)
	}
	control := binary.LittleEndian.Uint16(buf[2:4])
	if control&selfRelative == 0 {
		return nil, trace.BadParameter("sddl: security descriptor is not self-relative")
	}
	ownerOff := binary.LittleEndian.Uint32(buf[4:8])
	groupOff := binary.LittleEndian.Uint32(buf[8:12])
	saclOff := binary.LittleEndian.Uint32(buf[12:16])
	daclOff := binary.LittleEndian.Uint32(buf[16:20])

	sd := &SecurityDescriptor{Control: control}

	if ownerOff != 0 {
		owner, err := parseSIDAt(buf, ownerOff)
		if err != nil {
			return nil, trace.Wrap(err, "sddl: owner sid")
		}
		sd.Owner = owner
	}
	if groupOff != 0 {
		group, err := parseSIDAt(buf, groupOff)
		if err != nil {
			return nil, trace.Wrap(err, "sddl: group sid")
		}
		sd.Group = group
	}
	if saclOff != 0 {
		acl, err := parseACLAt(buf, saclOff)
		if err != nil {
			return nil, trace.Wrap(err, "sddl: sacl")
		}
		sd.SACL = acl
	}
	if daclOff != 0 {
		acl, err := parseACLAt(buf, daclOff)
		if err != nil {
			return nil, trace.Wrap(err, "sddl: dacl")
		}
		sd.DACL = acl
	}
	return sd, nil
}

func parseSIDAt(buf []byte, offset uint32) (sid.SID, error) {
	if int(offset) >= len(buf) {
		return sid.SID{}, trace.BadParameter("sddl: sid offset %d out of bounds", offset)
	}
	rest := buf[offset:]
	if len(rest) < 2 {
		return sid.SID{}, trace.BadParameter("sddl: sid truncated at offset %d", offset)
	}
	count := int(rest[1])
	size := 8 + 4*count
	if size > len(rest) {
		return sid.SID{}, trace.BadParameter("sddl: sid at offset %d exceeds buffer", offset)
	}
	return sid.FromBytes(rest[:size])
}

func parseACLAt(buf []byte, offset uint32) (*ACL, error) {
	if int(offset) >= len(buf) {
		return nil, trace.BadParameter("sddl: acl offset %d out of bounds", offset)
	}
	rest := buf[offset:]
	if len(rest) < 8 {
		return nil, trace.BadParameter("sddl: acl header truncated")
	}
	revision := rest[0]
	aclSize := int(binary.LittleEndian.Uint16(rest[2:4]))
	aceCount := int(binary.LittleEndian.Uint16(rest[4:6]))
	if aclSize > len(rest) {
		return nil, trace.BadParameter("sddl: acl size %d exceeds buffer", aclSize)
	}
	acl := &ACL{Revision: revision}
	pos := 8
	for i := 0; i < aceCount; i++ {
		if pos >= aclSize {
			return nil, trace.BadParameter("sddl: acl declares %d aces but ran out of space after %d", aceCount, i)
		}
		ace, n, err := parseACE(rest[pos:aclSize])
		if err != nil {
			return nil, trace.Wrap(err, "sddl: ace %d", i)
		}
		acl.ACEs = append(acl.ACEs, ace)
		pos += n
	}
	return acl, nil
}

// String renders a best-effort, SDDL-flavored diagnostic form:
// "O:<owner>G:<group>D:(...)(...)S:(...)". This is not a full SDDL
// encoder/parser (spec §1's non-goals exclude AD writes, and nothing in
// this module ever needs to re-encode a descriptor) — it exists purely for
// human-readable logging of what was parsed (SPEC_FULL.md supplement 4).
func (sd *SecurityDescriptor) String() string {
	out := "O:" + sd.Owner.String() + "G:" + sd.Group.String()
	if sd.DACL != nil {
		out += "D:" + aclString(sd.DACL)
	}
	if sd.SACL != nil {
		out += "S:" + aclString(sd.SACL)
	}
	return out
}

func aclString(acl *ACL) string {
	out := ""
	for _, ace := range acl.ACEs {
		out += aceString(ace)
	}
	return out
}

func aceString(ace ACE) string {
	kind := "?"
	switch ace.Type {
	case AceTypeAccessAllowed:
		kind = "A"
	case AceTypeAccessDenied:
		kind = "D"
	case AceTypeAccessAllowedObject:
		kind = "OA"
	case AceTypeAccessDeniedObject:
		kind = "OD"
	}
	obj := ""
	if ace.ObjectType != nil {
		obj = ace.ObjectType.String()
	}
	return "(" + kind + ";;0x" + uint32hex(ace.Mask) + ";" + obj + ";;" + ace.Subject.String() + ")"
}

func uint32hex(v uint32) string {
	const hex = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var b []byte
	for v > 0 {
		b = append([]byte{hex[v&0xF]}, b...)
		v >>= 4
	}
	return string(b)
}
