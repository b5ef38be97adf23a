package cmc

import (
	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/der"
)

// CertificationRequest is a PKCS#10 CSR, carried through this module
// opaquely: key generation and CSR construction are out of scope (spec §1
// non-goals), so the caller always supplies an already-built CSR as raw
// DER. This module never needs to interpret its internal fields, only to
// embed it unmodified in a TaggedCertificationRequest and round-trip it
// back out, so it is captured verbatim like the other "any-constructed"
// CMC fields.
type CertificationRequest der.AnyType

func (c CertificationRequest) EncodedLen() int        { return der.AnyType(c).EncodedLen() }
func (c CertificationRequest) WriteEncoded(w *der.Sink) { der.AnyType(c).WriteEncoded(w) }

// TakeCertificationRequest decodes (captures) the next SEQUENCE as an
// opaque CertificationRequest.
func TakeCertificationRequest(s *der.Source) (CertificationRequest, error) {
	raw, err := der.TakeAny(s)
	if err != nil {
		return nil, err
	}
	return CertificationRequest(raw), nil
}

// requestKind discriminates TaggedRequest's three CHOICE alternatives
// (spec §4.1).
type requestKind int

const (
	kindCertificationRequest requestKind = iota
	kindCertificateRequestMessage
	kindOtherRequestMessage
)

// TaggedRequest is CMC's TaggedRequest CHOICE:
//
//	[0] TaggedCertificationRequest
//	[1] CertificateRequestMessage (captured verbatim; this module never
//	    builds this alternative, only round-trips one if present in a
//	    decoded structure)
//	[2] OtherRequestMessage
//
// Exactly one of the Tagged*/Other* fields is populated, selected by Kind.
type TaggedRequest struct {
	kind requestKind

	// [0]
	BodyPartID BodyPartID
	CSR        CertificationRequest

	// [1]
	CertificateRequestMessage der.AnyType

	// [2]
	OtherBodyPartID BodyPartID
	OtherOID        der.OID
	OtherMessage    der.AnyType
}

// NewTaggedCertificationRequest builds the [0] alternative.
func NewTaggedCertificationRequest(id BodyPartID, csr CertificationRequest) TaggedRequest {
	return TaggedRequest{kind: kindCertificationRequest, BodyPartID: id, CSR: csr}
}

func (t TaggedRequest) encodable() der.Writable {
	switch t.kind {
	case kindCertificationRequest:
		return der.EncodeAs(der.ContextSpecific(0, true), der.Seq(der.Integer(t.BodyPartID), t.CSR))
	case kindCertificateRequestMessage:
		return der.EncodeAs(der.ContextSpecific(1, true), t.CertificateRequestMessage)
	case kindOtherRequestMessage:
		return der.EncodeAs(der.ContextSpecific(2, true), der.Seq(der.Integer(t.OtherBodyPartID), t.OtherOID, t.OtherMessage))
	default:
		panic("cmc: invalid TaggedRequest kind")
	}
}

func (t TaggedRequest) EncodedLen() int        { return t.encodable().EncodedLen() }
func (t TaggedRequest) WriteEncoded(w *der.Sink) { t.encodable().WriteEncoded(w) }

// TakeTaggedRequest decodes one CHOICE alternative by peeking its context
// tag number and dispatching accordingly (spec §4.1).
func TakeTaggedRequest(s *der.Source) (TaggedRequest, error) {
	tag, _, err := s.PeekTag()
	if err != nil {
		return TaggedRequest{}, err
	}
	switch tag.Number {
	case 0:
		inner, err := der.TakeTaggedConstructed(s, 0)
		if err != nil {
			return TaggedRequest{}, err
		}
		seq, err := inner.TakeConstructed(der.Sequence)
		if err != nil {
			return TaggedRequest{}, err
		}
		id, err := der.TakeInteger(seq)
		if err != nil {
			return TaggedRequest{}, err
		}
		csr, err := TakeCertificationRequest(seq)
		if err != nil {
			return TaggedRequest{}, err
		}
		return NewTaggedCertificationRequest(BodyPartID(id), csr), nil
	case 1:
		inner, err := der.TakeTaggedConstructed(s, 1)
		if err != nil {
			return TaggedRequest{}, err
		}
		raw, err := der.TakeAny(inner)
		if err != nil {
			return TaggedRequest{}, err
		}
		return TaggedRequest{kind: kindCertificateRequestMessage, CertificateRequestMessage: raw}, nil
	case 2:
		inner, err := der.TakeTaggedConstructed(s, 2)
		if err != nil {
			return TaggedRequest{}, err
		}
		seq, err := inner.TakeConstructed(der.Sequence)
		if err != nil {
			return TaggedRequest{}, err
		}
		id, err := der.TakeInteger(seq)
		if err != nil {
			return TaggedRequest{}, err
		}
		oid, err := der.TakeOID(seq)
		if err != nil {
			return TaggedRequest{}, err
		}
		msg, err := der.TakeAny(seq)
		if err != nil {
			return TaggedRequest{}, err
		}
		return TaggedRequest{kind: kindOtherRequestMessage, OtherBodyPartID: BodyPartID(id), OtherOID: oid, OtherMessage: msg}, nil
	default:
		return TaggedRequest{}, adcserr.Decode(&adcserr.DecodeFailure{
			Offset:   s.Position(),
			Expected: "TaggedRequest [0], [1], or [2]",
			Found:    tag.String(),
		})
	}
}

// ID returns the BodyPartID this request is keyed by, for invariant
// checking against TaggedAttribute references (spec §3 invariants).
func (t TaggedRequest) ID() (BodyPartID, bool) {
	switch t.kind {
	case kindCertificationRequest:
		return t.BodyPartID, true
	case kindOtherRequestMessage:
		return t.OtherBodyPartID, true
	default:
		return 0, false
	}
}
