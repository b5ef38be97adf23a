package der

import (
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// OID is an ASN.1 OBJECT IDENTIFIER, stored as its parsed component form so
// ParseOID(s).String() == s for every valid s (spec §8, property 1).
type OID struct {
	components []uint64
}

var oidTag = Universal(TagOID, false)

// ParseOID validates and parses a dotted-decimal OID string. It enforces
// spec §4.1's construction rules: at least two components; the first
// component must be 0, 1, or 2; and if the first component is 0 or 1, the
// second must be less than 40 (so the standard 40*first+second compression
// of the first two arcs stays representable).
func ParseOID(s string) (OID, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return OID{}, trace.BadParameter("oid %q: must have at least 2 components", s)
	}
	comps := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return OID{}, trace.BadParameter("oid %q: component %d (%q) is not a valid integer", s, i, p)
		}
		comps[i] = v
	}
	if comps[0] > 2 {
		return OID{}, trace.BadParameter("oid %q: first component must be 0, 1, or 2", s)
	}
	if comps[0] < 2 && comps[1] >= 40 {
		return OID{}, trace.BadParameter("oid %q: second component must be < 40 when first component is 0 or 1", s)
	}
	return OID{components: comps}, nil
}

// MustParseOID parses s and panics on error; used only for package-level
// well-known OID constants in this module.
func MustParseOID(s string) OID {
	o, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return o
}

// String renders the OID back to dotted-decimal form.
func (o OID) String() string {
	parts := make([]string, len(o.components))
	for i, c := range o.components {
		parts[i] = strconv.FormatUint(c, 10)
	}
	return strings.Join(parts, ".")
}

// Equal reports component-wise equality.
func (o OID) Equal(other OID) bool {
	if len(o.components) != len(other.components) {
		return false
	}
	for i := range o.components {
		if o.components[i] != other.components[i] {
			return false
		}
	}
	return true
}

func (o OID) content() []byte {
	var out []byte
	first := o.components[0]*40 + o.components[1]
	out = append(out, encodeArc(first)...)
	for _, c := range o.components[2:] {
		out = append(out, encodeArc(c)...)
	}
	return out
}

// encodeArc applies the standard base-128 continuation encoding (high bit
// set on every byte but the last).
func encodeArc(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var rev []byte
	for v > 0 {
		rev = append(rev, byte(v&0x7F))
		v >>= 7
	}
	out := make([]byte, len(rev))
	for i, b := range rev {
		// rev is least-significant group first; emit most-significant first.
		o := len(rev) - 1 - i
		if i != 0 {
			b |= 0x80
		}
		out[o] = b
	}
	return out
}

func (o OID) EncodedLen() int {
	c := o.content()
	return HeaderLen(oidTag, len(c)) + len(c)
}

func (o OID) WriteEncoded(w *Sink) {
	c := o.content()
	w.WriteHeader(oidTag, len(c))
	w.Write(c)
}

// TakeOID decodes an ASN.1 OBJECT IDENTIFIER.
func TakeOID(s *Source) (OID, error) {
	raw, err := s.TakePrimitive(oidTag)
	if err != nil {
		return OID{}, err
	}
	return decodeOIDContent(raw)
}

func decodeOIDContent(raw []byte) (OID, error) {
	if len(raw) == 0 {
		return OID{}, trace.BadParameter("oid: empty content")
	}
	var arcs []uint64
	var cur uint64
	for i, b := range raw {
		cur = cur<<7 | uint64(b&0x7F)
		if b&0x80 == 0 {
			arcs = append(arcs, cur)
			cur = 0
		} else if i == len(raw)-1 {
			return OID{}, trace.BadParameter("oid: truncated arc")
		}
	}
	if len(arcs) == 0 {
		return OID{}, trace.BadParameter("oid: no arcs decoded")
	}
	first := arcs[0] / 40
	second := arcs[0] % 40
	if first > 2 {
		// per X.690, values >= 80 collapse into first==2.
		first = 2
		second = arcs[0] - 80
	}
	comps := append([]uint64{first, second}, arcs[1:]...)
	return OID{components: comps}, nil
}
