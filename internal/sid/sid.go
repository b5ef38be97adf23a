// Package sid implements the binary, textual, and LDAP-filter
// representations of Windows security identifiers (spec §3, "SID").
package sid

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// SID is a Windows security identifier: a 6-byte identifier authority plus
// an ordered sequence of 32-bit sub-authorities. SIDs are immutable once
// constructed and are compared with Equal; the struct holds a slice, so it
// is not comparable with == and cannot be used as a map key (String() can).
type SID struct {
	authority      [6]byte
	subAuthorities []uint32
}

// FromBytes parses the on-wire binary SID representation:
//
//	byte 0:    revision (must be 1)
//	byte 1:    sub-authority count N
//	bytes 2-7: identifier authority, big-endian
//	bytes 8+:  N little-endian uint32 sub-authorities
func FromBytes(b []byte) (SID, error) {
	if len(b) < 8 {
		return SID{}, trace.BadParameter("sid: buffer too short (%d bytes)", len(b))
	}
	if b[0] != 1 {
		return SID{}, trace.BadParameter("sid: unsupported revision %d", b[0])
	}
	count := int(b[1])
	want := 8 + 4*count
	if len(b) != want {
		return SID{}, trace.BadParameter("sid: expected %d bytes for %d sub-authorities, got %d", want, count, len(b))
	}
	var s SID
	copy(s.authority[:], b[2:8])
	s.subAuthorities = make([]uint32, count)
	for i := 0; i < count; i++ {
		s.subAuthorities[i] = binary.LittleEndian.Uint32(b[8+4*i : 12+4*i])
	}
	return s, nil
}

// New builds a SID directly from an identifier authority and ordered
// sub-authorities, as used by tests and by callers constructing well-known
// SIDs (e.g. for object-type GUID ACE matching fixtures).
func New(authority [6]byte, subAuthorities ...uint32) SID {
	subs := make([]uint32, len(subAuthorities))
	copy(subs, subAuthorities)
	return SID{authority: authority, subAuthorities: subs}
}

// Bytes serializes the SID back to its on-wire binary representation.
func (s SID) Bytes() []byte {
	b := make([]byte, 8+4*len(s.subAuthorities))
	b[0] = 1
	b[1] = byte(len(s.subAuthorities))
	copy(b[2:8], s.authority[:])
	for i, sa := range s.subAuthorities {
		binary.LittleEndian.PutUint32(b[8+4*i:12+4*i], sa)
	}
	return b
}

// authorityValue collapses the 6-byte authority into a single integer for
// textual rendering, per the MS-DTYP SID string format.
func (s SID) authorityValue() uint64 {
	var v uint64
	for _, b := range s.authority {
		v = v<<8 | uint64(b)
	}
	return v
}

// String renders the SID as "S-1-<authority>-<sub>-<sub>-...".
func (s SID) String() string {
	var sb strings.Builder
	sb.WriteString("S-1-")
	sb.WriteString(strconv.FormatUint(s.authorityValue(), 10))
	for _, sa := range s.subAuthorities {
		sb.WriteByte('-')
		sb.WriteString(strconv.FormatUint(uint64(sa), 10))
	}
	return sb.String()
}

// FilterEscape renders the SID's binary form as an LDAP filter value,
// escaping every byte as "\XX" the way AD filters expect objectSid to be
// matched (spec §4.3's transitive-group-membership filter).
func (s SID) FilterEscape() string {
	raw := s.Bytes()
	var sb strings.Builder
	sb.Grow(len(raw) * 3)
	for _, b := range raw {
		fmt.Fprintf(&sb, "\\%02x", b)
	}
	return sb.String()
}

// Equal reports whether two SIDs have identical authority and
// sub-authorities.
func (s SID) Equal(other SID) bool {
	if s.authority != other.authority {
		return false
	}
	if len(s.subAuthorities) != len(other.subAuthorities) {
		return false
	}
	for i := range s.subAuthorities {
		if s.subAuthorities[i] != other.subAuthorities[i] {
			return false
		}
	}
	return true
}

// SubAuthorities returns a copy of the ordered sub-authority sequence.
func (s SID) SubAuthorities() []uint32 {
	out := make([]uint32, len(s.subAuthorities))
	copy(out, s.subAuthorities)
	return out
}
