package cmc

import (
	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/der"
)

// PKIResponse is RFC 5272's response structure: SEQUENCE { controlSequence
// SET OF TaggedAttribute, cmsSequence SET OF TaggedContentInfo,
// otherMsgSequence SET OF OtherMsg } (spec §4.4). Certificates themselves
// travel in the enclosing CMS SignedData's certificate set, or — in the
// "full PKI response" case — in a CMS SignedData nested inside one of
// cmsSequence's entries; see ParseSignedCMC in signer.go.
type PKIResponse struct {
	ControlSequence  []TaggedAttribute
	CMSSequence      []der.AnyType
	OtherMsgSequence []der.AnyType
}

// DecodePKIResponse parses a PKIResponse from its DER encoding.
func DecodePKIResponse(raw []byte) (PKIResponse, error) {
	s := der.NewSource(raw)
	seq, err := s.TakeConstructed(der.Sequence)
	if err != nil {
		return PKIResponse{}, trace.Wrap(err, "cmc: pkiresponse")
	}

	var resp PKIResponse

	controlSet, err := seq.TakeConstructed(der.Set)
	if err != nil {
		return PKIResponse{}, trace.Wrap(err, "cmc: pkiresponse controlSequence")
	}
	for !controlSet.AtEnd() {
		a, err := TakeTaggedAttribute(controlSet)
		if err != nil {
			return PKIResponse{}, trace.Wrap(err, "cmc: pkiresponse control attribute")
		}
		resp.ControlSequence = append(resp.ControlSequence, a)
	}

	cmsSet, err := seq.TakeConstructed(der.Set)
	if err != nil {
		return PKIResponse{}, trace.Wrap(err, "cmc: pkiresponse cmsSequence")
	}
	for !cmsSet.AtEnd() {
		v, err := der.TakeAny(cmsSet)
		if err != nil {
			return PKIResponse{}, trace.Wrap(err, "cmc: pkiresponse cms entry")
		}
		resp.CMSSequence = append(resp.CMSSequence, v)
	}

	otherSet, err := seq.TakeConstructed(der.Set)
	if err != nil {
		return PKIResponse{}, trace.Wrap(err, "cmc: pkiresponse otherMsgSequence")
	}
	for !otherSet.AtEnd() {
		v, err := der.TakeAny(otherSet)
		if err != nil {
			return PKIResponse{}, trace.Wrap(err, "cmc: pkiresponse other message")
		}
		resp.OtherMsgSequence = append(resp.OtherMsgSequence, v)
	}

	return resp, nil
}
