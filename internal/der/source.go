package der

import (
	"github.com/gravitational/libadcs/internal/adcserr"
)

// Source is a cursor over a DER-encoded byte slice. It never copies the
// underlying buffer; TakeConstructed returns a bounded sub-Source over the
// same backing array.
type Source struct {
	buf []byte
	pos int
	end int
}

// NewSource wraps buf for decoding, starting at offset 0.
func NewSource(buf []byte) *Source {
	return &Source{buf: buf, pos: 0, end: len(buf)}
}

// Position returns the current absolute offset, used to annotate
// DecodeFailure errors with where decoding stopped.
func (s *Source) Position() int { return s.pos }

// AtEnd reports whether the source has no more bytes to read.
func (s *Source) AtEnd() bool { return s.pos >= s.end }

func (s *Source) fail(expected string) error {
	found := "end of input"
	if s.pos < s.end {
		found = byteHex(s.buf[s.pos])
	}
	return adcserr.Decode(&adcserr.DecodeFailure{Offset: s.pos, Expected: expected, Found: found})
}

func byteHex(b byte) string {
	const hex = "0123456789abcdef"
	return "0x" + string([]byte{hex[b>>4], hex[b&0xF]})
}

// PeekTag reads the identifier octet (and any following length bytes) for
// the next value without consuming it, returning the tag and the value's
// content length. Callers use this to dispatch on the next tag (as
// cmc.TakeTaggedRequest does): peeking leaves the source untouched.
func (s *Source) PeekTag() (Tag, int, error) {
	save := s.pos
	tag, length, err := s.takeHeader()
	s.pos = save
	return tag, length, err
}

// takeHeader consumes the identifier and length octets and returns the
// parsed tag plus the content length (not including the header itself).
func (s *Source) takeHeader() (Tag, int, error) {
	if s.pos >= s.end {
		return Tag{}, 0, s.fail("tag octet")
	}
	b := s.buf[s.pos]
	tag := Tag{
		Class:       Class(b >> 6),
		Constructed: b&0x20 != 0,
		Number:      uint32(b & 0x1F),
	}
	if tag.Number == 0x1F {
		return Tag{}, 0, s.fail("low tag number (high-tag-number form unsupported)")
	}
	s.pos++
	if s.pos >= s.end {
		return Tag{}, 0, s.fail("length octet")
	}
	lb := s.buf[s.pos]
	s.pos++
	var length int
	if lb&0x80 == 0 {
		length = int(lb)
	} else {
		n := int(lb & 0x7F)
		if n == 0 {
			return Tag{}, 0, s.fail("definite length (indefinite form unsupported)")
		}
		if s.pos+n > s.end {
			return Tag{}, 0, s.fail("length bytes")
		}
		length = 0
		for i := 0; i < n; i++ {
			length = length<<8 | int(s.buf[s.pos])
			s.pos++
		}
	}
	if length < 0 || s.pos+length > s.end {
		return Tag{}, 0, s.fail("value within bounds")
	}
	return tag, length, nil
}

// TakePrimitive consumes a value expected to carry exactly `want` as its
// tag, and returns its raw content bytes.
func (s *Source) TakePrimitive(want Tag) ([]byte, error) {
	tag, length, err := s.takeHeader()
	if err != nil {
		return nil, err
	}
	if !tag.Equal(want) {
		return nil, s.fail(want.String())
	}
	v := s.buf[s.pos : s.pos+length]
	s.pos += length
	return v, nil
}

// TakeConstructed consumes the header of a constructed value expected to
// carry `want` as its tag, and returns a bounded child Source over its
// content (whose Position starts at the content's absolute offset).
func (s *Source) TakeConstructed(want Tag) (*Source, error) {
	tag, length, err := s.takeHeader()
	if err != nil {
		return nil, err
	}
	if !tag.Equal(want) {
		return nil, s.fail(want.String())
	}
	child := &Source{buf: s.buf, pos: s.pos, end: s.pos + length}
	s.pos += length
	return child, nil
}

// TakeAny consumes and returns the raw tag+length+value bytes of the next
// value verbatim, without interpreting it. Used for the "any-constructed"
// polymorphic CMC fields that only ever compare/round-trip by captured
// bytes (AttributeValue, CertificateRequestMessage, RequestMessage,
// OtherMessageValue, and the opaque CertificationRequest body).
func (s *Source) TakeAny() ([]byte, error) {
	start := s.pos
	_, length, err := s.takeHeader()
	if err != nil {
		return nil, err
	}
	end := s.pos + length
	raw := s.buf[start:end]
	s.pos = end
	return raw, nil
}
