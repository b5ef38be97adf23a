package rpctransport

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"

	"github.com/gravitational/trace"
)

// ndrWriter builds the NDR-encoded parameter stream for one DCE/RPC call.
// It implements only the specific shapes CertServerRequest's parameters
// need (top-level DWORDs, a conformant-varying wide string, and
// CERTTRANSBLOB's {cb DWORD; pb unique pointer to conformant byte array}),
// not general NDR marshaling.
type ndrWriter struct {
	buf        bytes.Buffer
	nextReferent uint32
}

func newNDRWriter() *ndrWriter { return &ndrWriter{nextReferent: 0x00020000} }

func (w *ndrWriter) align(n int) {
	for w.buf.Len()%n != 0 {
		w.buf.WriteByte(0)
	}
}

func (w *ndrWriter) uint32(v uint32) {
	w.align(4)
	binary.Write(&w.buf, binary.LittleEndian, v)
}

// referent emits a non-null unique-pointer referent id and advances the
// counter so subsequent pointers get distinct ids.
func (w *ndrWriter) referent() uint32 {
	id := w.nextReferent
	w.nextReferent += 4
	w.uint32(id)
	return id
}

func (w *ndrWriter) nullPointer() { w.uint32(0) }

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

// wideString encodes s as a null-terminated NDR conformant-varying string
// of wchar_t (MaximumCount, Offset=0, ActualCount, then UTF-16LE data
// including the terminator, 4-byte padded).
func (w *ndrWriter) wideString(s string) error {
	encoded, err := utf16le.String(s + "\x00")
	if err != nil {
		return trace.Wrap(err, "rpctransport: encode wide string")
	}
	count := uint32(len(encoded) / 2)
	w.uint32(count) // MaximumCount
	w.uint32(0)     // Offset
	w.uint32(count) // ActualCount
	w.buf.WriteString(encoded)
	w.align(4)
	return nil
}

// certTransBlob encodes a CERTTRANSBLOB { DWORD cb; [unique] BYTE *pb; }
// with its deferred conformant-array body appended immediately (this
// module never batches multiple deferred pointers across parameters, so
// inline-after-header is equivalent to the deferred-to-end-of-call
// convention for a single blob argument).
func (w *ndrWriter) certTransBlob(data []byte) {
	w.uint32(uint32(len(data)))
	if len(data) == 0 {
		w.nullPointer()
		return
	}
	w.referent()
	w.uint32(uint32(len(data))) // conformant array MaximumCount
	w.buf.Write(data)
	w.align(4)
}

func (w *ndrWriter) bytes() []byte { return w.buf.Bytes() }

// ndrReader decodes CertServerRequest's [out] parameters from a response
// stream built the same way ndrWriter builds requests.
type ndrReader struct {
	buf []byte
	pos int
}

func newNDRReader(b []byte) *ndrReader { return &ndrReader{buf: b} }

func (r *ndrReader) align(n int) { r.pos += (n - r.pos%n) % n }

func (r *ndrReader) uint32() (uint32, error) {
	r.align(4)
	if r.pos+4 > len(r.buf) {
		return 0, trace.BadParameter("rpctransport: truncated ndr stream reading uint32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// certTransBlob decodes one CERTTRANSBLOB's cb + deferred conformant byte
// array, mirroring ndrWriter.certTransBlob's layout.
func (r *ndrReader) certTransBlob() ([]byte, error) {
	cb, err := r.uint32()
	if err != nil {
		return nil, err
	}
	referent, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if referent == 0 || cb == 0 {
		return nil, nil
	}
	maxCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if int(maxCount) != int(cb) {
		return nil, trace.BadParameter("rpctransport: certtransblob length mismatch (%d vs %d)", maxCount, cb)
	}
	if r.pos+int(cb) > len(r.buf) {
		return nil, trace.BadParameter("rpctransport: truncated ndr stream reading blob body")
	}
	out := make([]byte, cb)
	copy(out, r.buf[r.pos:r.pos+int(cb)])
	r.pos += int(cb)
	r.align(4)
	return out, nil
}

// wideString decodes a null-terminated UTF-16LE conformant-varying string
// and strips the MS-WCCE convention where the first code unit is a
// length/flag value, not text (spec §4.7's pwszDispositionMessage note).
func (r *ndrReader) wideString() (string, error) {
	maxCount, err := r.uint32()
	if err != nil {
		return "", err
	}
	if _, err := r.uint32(); err != nil { // offset
		return "", err
	}
	actualCount, err := r.uint32()
	if err != nil {
		return "", err
	}
	if actualCount > maxCount {
		return "", trace.BadParameter("rpctransport: wide string actualCount exceeds maximumCount")
	}
	byteLen := int(actualCount) * 2
	if r.pos+byteLen > len(r.buf) {
		return "", trace.BadParameter("rpctransport: truncated ndr stream reading wide string")
	}
	raw := r.buf[r.pos : r.pos+byteLen]
	r.pos += byteLen
	r.align(4)

	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	decoded, err := decoder.Bytes(raw)
	if err != nil {
		return "", trace.Wrap(err, "rpctransport: decode wide string")
	}
	s := string(decoded)
	// Skip the leading length/flag code unit per MS-WCCE's
	// pwszDispositionMessage convention, and trim the null terminator.
	runes := []rune(s)
	if len(runes) > 0 {
		runes = runes[1:]
	}
	for len(runes) > 0 && runes[len(runes)-1] == 0 {
		runes = runes[:len(runes)-1]
	}
	return string(runes), nil
}
