// Package cmc implements Certificate Management over CMS (RFC 5272):
// building a signed CMC request that wraps one or more PKCS#10 CSRs with
// template attributes, and parsing a CMC response back into an ordered
// certificate list (spec §4.4).
package cmc

import (
	"github.com/gravitational/libadcs/internal/der"
)

// BodyPartID identifies one request (and its attributes) within a single
// PKIData. IDs are assigned 0, 1, 2, ... in the order CSRs are presented to
// Build.
type BodyPartID uint32

// Attribute is one (OID, values) pair to attach to a CSR's BodyPartID as a
// TaggedAttribute (spec §3, CmcRequest; §4.4 step 2).
type Attribute struct {
	OID    string
	Values [][]byte
}

// TaggedAttribute is CMC's CMCAttribute: a BodyPartID plus an attribute
// type and value set, referencing the request it decorates.
type TaggedAttribute struct {
	BodyPartID BodyPartID
	OID        der.OID
	Values     []der.AnyType
}

func (a TaggedAttribute) encodable() der.Writable {
	values := make([]der.Writable, len(a.Values))
	for i, v := range a.Values {
		values[i] = v
	}
	return der.Seq(
		der.Integer(a.BodyPartID),
		a.OID,
		der.SetOf(values...),
	)
}

func (a TaggedAttribute) EncodedLen() int    { return a.encodable().EncodedLen() }
func (a TaggedAttribute) WriteEncoded(w *der.Sink) { a.encodable().WriteEncoded(w) }

// TakeTaggedAttribute decodes one CMCAttribute: SEQUENCE { bodyPartID
// INTEGER, attrType OID, attrValues SET OF AttributeValue }.
func TakeTaggedAttribute(s *der.Source) (TaggedAttribute, error) {
	seq, err := s.TakeConstructed(der.Sequence)
	if err != nil {
		return TaggedAttribute{}, err
	}
	bpid, err := der.TakeInteger(seq)
	if err != nil {
		return TaggedAttribute{}, err
	}
	oid, err := der.TakeOID(seq)
	if err != nil {
		return TaggedAttribute{}, err
	}
	set, err := seq.TakeConstructed(der.Set)
	if err != nil {
		return TaggedAttribute{}, err
	}
	var values []der.AnyType
	for !set.AtEnd() {
		v, err := der.TakeAny(set)
		if err != nil {
			return TaggedAttribute{}, err
		}
		values = append(values, v)
	}
	return TaggedAttribute{BodyPartID: BodyPartID(bpid), OID: oid, Values: values}, nil
}
