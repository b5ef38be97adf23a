package cmc

import (
	"crypto/sha256"
	"crypto/x509"

	"github.com/digitorus/pkcs7"
	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/der"
)

// Well-known OIDs used by the CMC envelope (spec §4.4, design note "Null-
// signed CMS").
var (
	oidSignedData   = der.MustParseOID("1.2.840.113549.1.7.2")
	oidPKIDataCT    = der.MustParseOID("1.3.6.1.5.5.7.12.2")
	oidContentType  = der.MustParseOID("1.2.840.113549.1.9.3")
	oidMessageDigest = der.MustParseOID("1.2.840.113549.1.9.4")
	oidSHA256       = der.MustParseOID("2.16.840.1.101.3.4.2.1")
	// oidSignatureByDigest is CMC's degenerate "signature algorithm" for a
	// null-key-info signer: the "signature" is simply a SHA-256 digest of
	// the signed attributes, not a real asymmetric signature. This OID
	// must be preserved exactly (design note, spec §9): ADCS requires a
	// well-formed SignerInfo but never validates the signature for
	// self-enrollment.
	oidSignatureByDigest = der.MustParseOID("1.2.840.113549.1.9.16.3.10")
)

// BuildSignedCMC wraps data's DER encoding as the eContent of a CMS
// SignedData, signed by a degenerate null-key-info signer (spec §4.4 step
// 5, design note "Null-signed CMS"): the SignerInfo's signerIdentifier is
// issuerAndSerialNumber(emptyName, serial=0) and its "signature" is just
// the SHA-256 digest of the DER-encoded signed attributes. This avoids
// requiring a second private key purely to satisfy the envelope's shape;
// ADCS's own RPC/SOAP endpoints do not validate it for self-enrollment.
func BuildSignedCMC(data PKIData) []byte {
	content := data.Bytes()
	digest := sha256.Sum256(content)

	signedAttrs := der.SetOf(
		attribute(oidContentType, der.AnyType(der.Bytes(oidPKIDataCT))),
		attribute(oidMessageDigest, der.AnyType(der.Bytes(der.OctetString(digest[:])))),
	)
	signature := sha256.Sum256(der.Bytes(signedAttrs))

	signerInfo := der.Seq(
		der.Integer(1), // version
		issuerAndSerialNumber(),
		algorithmIdentifier(oidSHA256),
		der.EncodeAs(der.ContextSpecific(0, true), signedAttrs),
		algorithmIdentifier(oidSignatureByDigest),
		der.OctetString(signature[:]),
	)

	encapContentInfo := der.Seq(
		oidPKIDataCT,
		der.EncodeAs(der.ContextSpecific(0, true), der.OctetString(content)),
	)

	signedData := der.Seq(
		der.Integer(1), // version
		der.SetOf(algorithmIdentifier(oidSHA256)),
		encapContentInfo,
		der.SetOf(signerInfo),
	)

	contentInfo := der.Seq(
		oidSignedData,
		der.EncodeAs(der.ContextSpecific(0, true), signedData),
	)

	return der.Bytes(contentInfo)
}

func attribute(oid der.OID, value der.AnyType) der.Writable {
	return der.Seq(oid, der.SetOf(value))
}

func algorithmIdentifier(oid der.OID) der.Writable {
	return der.Seq(oid)
}

// issuerAndSerialNumber builds the degenerate signer identifier: an empty
// RDNSequence as issuer, and serial number 0.
func issuerAndSerialNumber() der.Writable {
	emptyName := der.Seq() // RDNSequence ::= SEQUENCE OF RelativeDistinguishedName, empty
	return der.Seq(emptyName, der.Integer(0))
}

// ParsedResponse is the result of unwrapping an inbound CMC response
// envelope: the decoded PKIResponse plus whatever certificates accompanied
// it (spec §4.4's "Parse response").
type ParsedResponse struct {
	Response     PKIResponse
	Certificates []*x509.Certificate
}

// ParseSignedCMC unwraps a CMS SignedData envelope (using digitorus/pkcs7,
// which this module relies on only for parsing — see BuildSignedCMC's
// comment for why the outbound path is hand-built instead) and decodes its
// content as a PKIResponse.
func ParseSignedCMC(raw []byte) (ParsedResponse, error) {
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return ParsedResponse{}, trace.Wrap(err, "cmc: parse cms envelope")
	}
	resp, err := DecodePKIResponse(p7.Content)
	if err != nil {
		return ParsedResponse{}, trace.Wrap(err, "cmc: decode pkiresponse")
	}
	certs := p7.Certificates
	if len(certs) == 0 {
		certs = extractFromCMSSequence(resp.CMSSequence)
	}
	return ParsedResponse{Response: resp, Certificates: certs}, nil
}

// extractFromCMSSequence handles the "full PKI response" case (spec §4.4):
// certificates can instead travel inside a CMS SignedData nested in one of
// PKIResponse's cmsSequence entries.
func extractFromCMSSequence(entries []der.AnyType) []*x509.Certificate {
	var certs []*x509.Certificate
	for _, entry := range entries {
		inner, err := pkcs7.Parse(entry)
		if err != nil {
			continue
		}
		certs = append(certs, inner.Certificates...)
	}
	return certs
}
