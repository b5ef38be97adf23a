package cmc

import (
	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/der"
)

// PKIData is RFC 5272's top-level request structure: SEQUENCE {
// controlSequence SET OF TaggedAttribute, reqSequence SET OF TaggedRequest,
// cmsSequence SET OF TaggedContentInfo, otherMsgSequence SET OF
// OtherMsg }. This module never emits cmsSequence or otherMsgSequence
// entries (spec §4.4 step 3: "cms_sequence=∅, other_msg_sequence=∅") but
// still decodes them (captured verbatim) so a round-trip of a
// server-echoed PKIData is lossless.
type PKIData struct {
	ControlSequence  []TaggedAttribute
	ReqSequence      []TaggedRequest
	CMSSequence      []der.AnyType
	OtherMsgSequence []der.AnyType
}

// CSRWithAttributes is one input to Build: a raw CSR plus the attributes
// to tag it with.
type CSRWithAttributes struct {
	CSR        CertificationRequest
	Attributes []Attribute
}

// Build assigns BodyPartIDs 0, 1, 2, ... to each CSR in order and emits one
// TaggedAttribute per (OID, values) pair carrying that CSR's BodyPartID,
// per spec §4.4 steps 1-3.
func Build(requests []CSRWithAttributes) (PKIData, error) {
	var data PKIData
	for i, req := range requests {
		id := BodyPartID(i)
		data.ReqSequence = append(data.ReqSequence, NewTaggedCertificationRequest(id, req.CSR))
		for _, attr := range req.Attributes {
			oid, err := der.ParseOID(attr.OID)
			if err != nil {
				return PKIData{}, trace.Wrap(err, "cmc: attribute oid")
			}
			values := make([]der.AnyType, len(attr.Values))
			for j, v := range attr.Values {
				values[j] = der.AnyType(v)
			}
			data.ControlSequence = append(data.ControlSequence, TaggedAttribute{
				BodyPartID: id,
				OID:        oid,
				Values:     values,
			})
		}
	}
	return data, nil
}

func (d PKIData) encodable() der.Writable {
	control := make([]der.Writable, len(d.ControlSequence))
	for i, c := range d.ControlSequence {
		control[i] = c
	}
	req := make([]der.Writable, len(d.ReqSequence))
	for i, r := range d.ReqSequence {
		req[i] = r
	}
	cms := make([]der.Writable, len(d.CMSSequence))
	for i, c := range d.CMSSequence {
		cms[i] = c
	}
	other := make([]der.Writable, len(d.OtherMsgSequence))
	for i, o := range d.OtherMsgSequence {
		other[i] = o
	}
	return der.Seq(
		der.SetOf(control...),
		der.SetOf(req...),
		der.SetOf(cms...),
		der.SetOf(other...),
	)
}

// Bytes DER-encodes the PKIData.
func (d PKIData) Bytes() []byte { return der.Bytes(d.encodable()) }

// DecodePKIData parses a PKIData from its DER encoding and validates the
// BodyPartID invariants from spec §3: every TaggedAttribute.BodyPartID
// appears as some TaggedRequest's id, and no TaggedRequest id repeats.
func DecodePKIData(raw []byte) (PKIData, error) {
	s := der.NewSource(raw)
	seq, err := s.TakeConstructed(der.Sequence)
	if err != nil {
		return PKIData{}, trace.Wrap(err, "cmc: pkidata")
	}

	var data PKIData

	controlSet, err := seq.TakeConstructed(der.Set)
	if err != nil {
		return PKIData{}, trace.Wrap(err, "cmc: controlSequence")
	}
	for !controlSet.AtEnd() {
		a, err := TakeTaggedAttribute(controlSet)
		if err != nil {
			return PKIData{}, trace.Wrap(err, "cmc: control attribute")
		}
		data.ControlSequence = append(data.ControlSequence, a)
	}

	reqSet, err := seq.TakeConstructed(der.Set)
	if err != nil {
		return PKIData{}, trace.Wrap(err, "cmc: reqSequence")
	}
	for !reqSet.AtEnd() {
		r, err := TakeTaggedRequest(reqSet)
		if err != nil {
			return PKIData{}, trace.Wrap(err, "cmc: tagged request")
		}
		data.ReqSequence = append(data.ReqSequence, r)
	}

	cmsSet, err := seq.TakeConstructed(der.Set)
	if err != nil {
		return PKIData{}, trace.Wrap(err, "cmc: cmsSequence")
	}
	for !cmsSet.AtEnd() {
		v, err := der.TakeAny(cmsSet)
		if err != nil {
			return PKIData{}, trace.Wrap(err, "cmc: cms entry")
		}
		data.CMSSequence = append(data.CMSSequence, v)
	}

	otherSet, err := seq.TakeConstructed(der.Set)
	if err != nil {
		return PKIData{}, trace.Wrap(err, "cmc: otherMsgSequence")
	}
	for !otherSet.AtEnd() {
		v, err := der.TakeAny(otherSet)
		if err != nil {
			return PKIData{}, trace.Wrap(err, "cmc: other message")
		}
		data.OtherMsgSequence = append(data.OtherMsgSequence, v)
	}

	if err := data.checkInvariants(); err != nil {
		return PKIData{}, err
	}
	return data, nil
}

func (d PKIData) checkInvariants() error {
	ids := map[BodyPartID]bool{}
	for _, r := range d.ReqSequence {
		id, ok := r.ID()
		if !ok {
			continue
		}
		if ids[id] {
			return trace.BadParameter("cmc: duplicate body part id %d in reqSequence", id)
		}
		ids[id] = true
	}
	for _, a := range d.ControlSequence {
		if !ids[a.BodyPartID] {
			return trace.BadParameter("cmc: control attribute references unknown body part id %d", a.BodyPartID)
		}
	}
	return nil
}
