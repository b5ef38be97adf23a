package sddl

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/gravitational/trace"
)

// GUID is a 16-byte Microsoft-style GUID, stored in its on-wire byte order
// (the first three fields little-endian, the remaining eight bytes
// verbatim — spec §4.2: "GUID bytes are little-endian in the first three
// fields per Microsoft convention").
type GUID [16]byte

// ParseGUID parses the canonical "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx"
// string form (as used for the Enroll/AutoEnroll extended-right GUIDs in
// spec §3) into its on-wire byte order.
func ParseGUID(s string) (GUID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 5 {
		return GUID{}, trace.BadParameter("guid %q: expected 5 hyphen-separated groups", s)
	}
	lens := []int{8, 4, 4, 4, 12}
	for i, p := range parts {
		if len(p) != lens[i] {
			return GUID{}, trace.BadParameter("guid %q: group %d has wrong length", s, i)
		}
	}
	raw, err := hex.DecodeString(strings.Join(parts, ""))
	if err != nil {
		return GUID{}, trace.BadParameter("guid %q: %v", s, err)
	}

	var g GUID
	// data1 (4 bytes), data2 (2 bytes), data3 (2 bytes) are little-endian
	// on the wire but big-endian in the canonical string; data4 (8 bytes)
	// is the same order in both.
	binary.LittleEndian.PutUint32(g[0:4], binary.BigEndian.Uint32(raw[0:4]))
	binary.LittleEndian.PutUint16(g[4:6], binary.BigEndian.Uint16(raw[4:6]))
	binary.LittleEndian.PutUint16(g[6:8], binary.BigEndian.Uint16(raw[6:8]))
	copy(g[8:16], raw[8:16])
	return g, nil
}

// MustParseGUID parses s and panics on error; for package-level well-known
// GUID constants only.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

// String renders the GUID back to canonical form.
func (g GUID) String() string {
	var buf [16]byte
	binary.BigEndian.PutUint32(buf[0:4], binary.LittleEndian.Uint32(g[0:4]))
	binary.BigEndian.PutUint16(buf[4:6], binary.LittleEndian.Uint16(g[4:6]))
	binary.BigEndian.PutUint16(buf[6:8], binary.LittleEndian.Uint16(g[6:8]))
	copy(buf[8:16], g[8:16])
	h := hex.EncodeToString(buf[:])
	return strings.Join([]string{h[0:8], h[8:12], h[12:16], h[16:20], h[20:32]}, "-")
}

// Well-known extended-right GUIDs from spec §3: the object-type GUIDs
// tested against a template's nTSecurityDescriptor to determine whether
// the caller may enroll, or auto-enroll, for that template.
var (
	EnrollRight     = MustParseGUID("0e10c968-78fb-11d2-90d4-00c04f79dc55")
	AutoEnrollRight = MustParseGUID("a05b8cc2-17bc-4802-a710-e7c15ab866a2")
)
