package der

// Writable is implemented by every encodable value in this package and in
// internal/cmc. It mirrors the source's encoded_len/write_encoded
// capability pair (spec §4.1); there is deliberately no separate "mode"
// parameter since this codec only ever emits DER, never BER.
type Writable interface {
	EncodedLen() int
	WriteEncoded(w *Sink)
}

// Tagged wraps an inner Writable so it is written under an explicit
// alternate tag instead of its natural universal one. This is how CMC's
// TaggedRequest CHOICE ([0]/[1]/[2]) and similar context-tagged
// alternatives are expressed: the inner value's own header is preserved
// and the outer tag wraps it (explicit tagging), which keeps every
// concrete type's own encode/decode code independent of where it happens
// to be embedded.
type Tagged struct {
	Tag   Tag
	Inner Writable
}

// EncodeAs wraps w so it is written under tag instead of its own.
func EncodeAs(tag Tag, w Writable) Tagged { return Tagged{Tag: tag, Inner: w} }

func (t Tagged) EncodedLen() int {
	inner := t.Inner.EncodedLen()
	return HeaderLen(t.Tag, inner) + inner
}

func (t Tagged) WriteEncoded(w *Sink) {
	w.WriteHeader(t.Tag, t.Inner.EncodedLen())
	t.Inner.WriteEncoded(w)
}

// TakeTaggedConstructed consumes an explicit context-tagged constructed
// value and returns a Source bounded to its content, ready for the caller
// to decode the inner value from.
func TakeTaggedConstructed(s *Source, number uint32) (*Source, error) {
	return s.TakeConstructed(ContextSpecific(number, true))
}

// Integer is a non-negative integer encoded as an ASN.1 INTEGER. It is
// used for BodyPartID and other small counters in this module; nothing
// here needs big.Int-sized values.
type Integer uint32

func (i Integer) content() []byte {
	v := uint32(i)
	// A leading 0x00 pad byte keeps values with the top bit set
	// non-negative; the loop below trims it away whenever DER's
	// minimal-encoding rule allows.
	b := []byte{0, byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	i2 := 0
	for i2 < 4 && b[i2] == 0 && b[i2+1]&0x80 == 0 {
		i2++
	}
	return b[i2:]
}

func (i Integer) EncodedLen() int {
	c := i.content()
	return HeaderLen(i.tag(), len(c)) + len(c)
}

func (Integer) tag() Tag { return Universal(TagInteger, false) }

func (i Integer) WriteEncoded(w *Sink) {
	c := i.content()
	w.WriteHeader(i.tag(), len(c))
	w.Write(c)
}

// TakeInteger decodes a non-negative ASN.1 INTEGER into a uint32.
func TakeInteger(s *Source) (Integer, error) {
	raw, err := s.TakePrimitive(Universal(TagInteger, false))
	if err != nil {
		return 0, err
	}
	var v uint32
	for _, b := range raw {
		v = v<<8 | uint32(b)
	}
	return Integer(v), nil
}

// OctetString is a byte string encoded as a primitive OCTET STRING.
type OctetString []byte

func (o OctetString) EncodedLen() int {
	return HeaderLen(OctetStringTag, len(o)) + len(o)
}

// OctetStringTag is the universal primitive OCTET STRING tag.
var OctetStringTag = Universal(TagOctetString, false)

func (o OctetString) WriteEncoded(w *Sink) {
	w.WriteHeader(OctetStringTag, len(o))
	w.Write(o)
}

// TakeOctetString decodes a primitive OCTET STRING.
func TakeOctetString(s *Source) (OctetString, error) {
	raw, err := s.TakePrimitive(OctetStringTag)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// AnyType captures a fully-formed TLV verbatim without interpreting it.
// Equality between two AnyType values is byte equality of the captured
// encoding, matching spec §4.1's "polymorphic any-constructed types
// preserve the captured raw bytes verbatim; their equality compares
// bytes".
type AnyType []byte

func (a AnyType) EncodedLen() int { return len(a) }
func (a AnyType) WriteEncoded(w *Sink) { w.Write(a) }

// TakeAny captures the next value verbatim (tag, length, and content).
func TakeAny(s *Source) (AnyType, error) {
	raw, err := s.TakeAny()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// Seq builds a SEQUENCE whose content is the concatenation of the encoded
// members, in order.
func Seq(members ...Writable) seqOrSet {
	return seqOrSet{tag: Sequence, members: members}
}

// SetOf builds a SET whose content is the concatenation of the encoded
// members, in order (callers are responsible for DER's canonical-ordering
// requirement when it matters; every SET this module emits has at most the
// members the caller explicitly supplies in the order CMS/CMC expects).
func SetOf(members ...Writable) seqOrSet {
	return seqOrSet{tag: Set, members: members}
}

type seqOrSet struct {
	tag     Tag
	members []Writable
}

func (s seqOrSet) innerLen() int {
	n := 0
	for _, m := range s.members {
		n += m.EncodedLen()
	}
	return n
}

func (s seqOrSet) EncodedLen() int {
	inner := s.innerLen()
	return HeaderLen(s.tag, inner) + inner
}

func (s seqOrSet) WriteEncoded(w *Sink) {
	w.WriteHeader(s.tag, s.innerLen())
	for _, m := range s.members {
		m.WriteEncoded(w)
	}
}

// Bytes fully encodes w into a standalone byte slice.
func Bytes(w Writable) []byte {
	sink := NewSink()
	w.WriteEncoded(sink)
	return sink.Bytes()
}
