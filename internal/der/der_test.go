package der_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/der"
)

func TestOIDRoundTrip(t *testing.T) {
	for _, s := range []string{
		"1.2.840.113549.1.9.16.3.10",
		"1.3.6.1.5.5.7.12.2",
		"2.5.4.3",
		"0.9.2342.19200300.100.1.1",
	} {
		t.Run(s, func(t *testing.T) {
			oid, err := der.ParseOID(s)
			require.NoError(t, err)
			require.Equal(t, s, oid.String())

			encoded := der.Bytes(oid)
			decoded, err := der.TakeOID(der.NewSource(encoded))
			require.NoError(t, err)
			require.True(t, oid.Equal(decoded))
			require.Equal(t, s, decoded.String())
		})
	}
}

func TestOIDRejectsInvalidFirstArc(t *testing.T) {
	_, err := der.ParseOID("3.1")
	require.Error(t, err)
}

func TestOIDRejectsSecondArcTooLarge(t *testing.T) {
	_, err := der.ParseOID("1.40")
	require.Error(t, err)
	_, err = der.ParseOID("0.45")
	require.Error(t, err)
}

func TestOIDRejectsSingleComponent(t *testing.T) {
	_, err := der.ParseOID("1")
	require.Error(t, err)
}

func TestIntegerRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 255, 256, 65535, 70000, 1 << 31} {
		enc := der.Bytes(der.Integer(v))
		got, err := der.TakeInteger(der.NewSource(enc))
		require.NoError(t, err)
		require.Equal(t, der.Integer(v), got)
	}
}

func TestOctetStringRoundTrip(t *testing.T) {
	os := der.OctetString("hello world")
	enc := der.Bytes(os)
	got, err := der.TakeOctetString(der.NewSource(enc))
	require.NoError(t, err)
	require.Equal(t, os, got)
}

func TestSequenceAndTagged(t *testing.T) {
	seq := der.Seq(der.Integer(7), der.OctetString("abc"))
	tagged := der.EncodeAs(der.ContextSpecific(0, true), seq)
	enc := der.Bytes(tagged)

	src := der.NewSource(enc)
	child, err := der.TakeTaggedConstructed(src, 0)
	require.NoError(t, err)

	inner, err := child.TakeConstructed(der.Sequence)
	require.NoError(t, err)
	i, err := der.TakeInteger(inner)
	require.NoError(t, err)
	require.Equal(t, der.Integer(7), i)
	o, err := der.TakeOctetString(inner)
	require.NoError(t, err)
	require.Equal(t, der.OctetString("abc"), o)
	require.True(t, inner.AtEnd())
}

func TestAnyTypeCapturesVerbatim(t *testing.T) {
	seq := der.Seq(der.Integer(1), der.Integer(2))
	enc := der.Bytes(seq)

	any, err := der.TakeAny(der.NewSource(enc))
	require.NoError(t, err)
	require.Equal(t, enc, []byte(any))

	// AnyType round-trips byte-for-byte.
	reenc := der.Bytes(any)
	require.Equal(t, enc, reenc)
}

func TestDecodeFailureReportsOffset(t *testing.T) {
	_, err := der.TakeInteger(der.NewSource([]byte{0x04, 0x01, 0x00}))
	require.Error(t, err)

	// The OCTET STRING header is consumed before the tag is compared, so
	// the failure is reported at the offset just past it.
	var failure *adcserr.DecodeFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, 2, failure.Offset)
}
