// Package model holds the data types shared across the discovery, CMC,
// SOAP/XCEP, RPC, and orchestration packages (spec §3). Keeping them in one
// leaf package avoids import cycles between the protocol packages that all
// need to refer to, say, CertificateTemplate or EnrollmentService.
package model

import (
	"bytes"
	"crypto/x509"
	"sort"

	"github.com/gravitational/libadcs/internal/sid"
)

// NamedCertificate pairs a friendly nickname with a parsed X.509
// certificate. Used for roots, intermediate CA certificates, and the
// issued entity certificate. Equality is by DER bytes, not by nickname.
type NamedCertificate struct {
	Nickname string
	DER      []byte
}

// Certificate parses the stored DER bytes. Errors are the caller's to
// handle; this module never stores an unparseable certificate (every
// constructor validates at ingestion time).
func (n NamedCertificate) Certificate() (*x509.Certificate, error) {
	return x509.ParseCertificate(n.DER)
}

// Equal compares two NamedCertificates by DER bytes only.
func (n NamedCertificate) Equal(other NamedCertificate) bool {
	return bytes.Equal(n.DER, other.DER)
}

// Principal is the caller's identity in the forest (spec §3), obtained via
// the WhoAmI extended operation plus a sAMAccountName lookup.
type Principal struct {
	SID             sid.SID
	PrincipalName   string
	DistinguishedName string
}

// RootDSE holds the three Public Key Services container DNs derived from
// the forest's configurationNamingContext (spec §3, §4.3).
type RootDSE struct {
	ConfigurationNamingContext string
	RootDomainNamingContext    string
	DefaultNamingContext       string
}

const pkiServicesRDN = "CN=Public Key Services,CN=Services,"

// CertificateTemplatesContainer returns the DN of the Certificate Templates
// container.
func (r RootDSE) CertificateTemplatesContainer() string {
	return "CN=Certificate Templates," + pkiServicesRDN + r.ConfigurationNamingContext
}

// CertificationAuthoritiesContainer returns the DN of the Certification
// Authorities container.
func (r RootDSE) CertificationAuthoritiesContainer() string {
	return "CN=Certification Authorities," + pkiServicesRDN + r.ConfigurationNamingContext
}

// EnrollmentServicesContainer returns the DN of the Enrollment Services
// container.
func (r RootDSE) EnrollmentServicesContainer() string {
	return "CN=Enrollment Services," + pkiServicesRDN + r.ConfigurationNamingContext
}

// TemplateExtension is one (OID, values) entry from a
// CertificateTemplate's extension list; the values are opaque attribute
// blobs carried verbatim into the CMC TaggedAttribute for that extension.
type TemplateExtension struct {
	OID    string
	Values [][]byte
}

// CertificateTemplate is a pKICertificateTemplate object, with Enroll and
// AutoEnroll already computed from the object's nTSecurityDescriptor
// against the calling principal (spec §3).
type CertificateTemplate struct {
	CN         string
	Enroll     bool
	AutoEnroll bool
	Extensions []TemplateExtension
}

// ClientAuthentication enumerates the HTTPS endpoint authentication modes
// from spec §3 (bit values per MS-XCEP clientAuthentication).
type ClientAuthentication uint32

const (
	ClientAuthAnonymous           ClientAuthentication = 1
	ClientAuthTransportKerberos   ClientAuthentication = 2
	ClientAuthSoapUsernamePassword ClientAuthentication = 4
	ClientAuthCmsSignature        ClientAuthentication = 8
)

// HttpsEndpoint is one WS-Trust/XCEP URI advertised by an enrollment
// service.
type HttpsEndpoint struct {
	URI                  string
	ClientAuthentication ClientAuthentication
	RenewalOnly          bool
	Priority             uint32
}

// EnrollmentService is a CA instance that accepts requests for some subset
// of templates, reachable over zero or more HTTPS endpoints and/or one RPC
// endpoint (spec §3).
type EnrollmentService struct {
	Certificate    NamedCertificate
	TemplateNames  []string
	HTTPSEndpoints []HttpsEndpoint
	RPCEndpoint    string // hostname; empty if not offered
}

// ListsTemplate reports whether this service accepts requests for the
// named template.
func (e EnrollmentService) ListsTemplate(name string) bool {
	for _, t := range e.TemplateNames {
		if t == name {
			return true
		}
	}
	return false
}

// PolicyEndpoint is caller-supplied input configuration: one candidate
// location to fetch policy from, with a cost used to rank it against the
// others (spec §3).
type PolicyEndpoint struct {
	URI                  string
	ClientAuthentication ClientAuthentication
	Cost                 uint64
}

// SortPolicyEndpoints returns a new, stably sorted copy: cost ascending,
// then by client authentication, with TransportKerberos ahead of every
// other mode and the remaining modes in ascending numeric order (so
// Kerberos beats Anonymous at equal cost, per MS-CAESO 4.4.5.3.2.3).
func SortPolicyEndpoints(endpoints []PolicyEndpoint) []PolicyEndpoint {
	out := make([]PolicyEndpoint, len(endpoints))
	copy(out, endpoints)
	authRank := func(a ClientAuthentication) uint32 {
		if a == ClientAuthTransportKerberos {
			return 0
		}
		return uint32(a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		return authRank(out[i].ClientAuthentication) < authRank(out[j].ClientAuthentication)
	})
	return out
}

// Policy is the immutable result of a successful policy fetch (spec §3):
// once constructed, nothing mutates it.
type Policy struct {
	ID                   string
	EnrollmentServices   []EnrollmentService
	Templates            []CertificateTemplate
	RootCertificates     []NamedCertificate
	IntermediateCertificates []NamedCertificate
}

// ComputeIntermediates derives the intermediate set as
// {CA cert of each enrollment service} \ roots, per spec §3.
func ComputeIntermediates(services []EnrollmentService, roots []NamedCertificate) []NamedCertificate {
	isRoot := func(c NamedCertificate) bool {
		for _, r := range roots {
			if r.Equal(c) {
				return true
			}
		}
		return false
	}
	var seen []NamedCertificate
	isSeen := func(c NamedCertificate) bool {
		for _, s := range seen {
			if s.Equal(c) {
				return true
			}
		}
		return false
	}
	for _, svc := range services {
		if !isRoot(svc.Certificate) && !isSeen(svc.Certificate) {
			seen = append(seen, svc.Certificate)
		}
	}
	return seen
}

// TemplateByName returns the named template and whether it was found.
func (p Policy) TemplateByName(name string) (CertificateTemplate, bool) {
	for _, t := range p.Templates {
		if t.CN == name {
			return t, true
		}
	}
	return CertificateTemplate{}, false
}

// ServicesForTemplate returns, in input order, every enrollment service
// listing the named template.
func (p Policy) ServicesForTemplate(name string) []EnrollmentService {
	var out []EnrollmentService
	for _, svc := range p.EnrollmentServices {
		if svc.ListsTemplate(name) {
			out = append(out, svc)
		}
	}
	return out
}

// EnrollmentResponse is the tagged result of a submit/poll call (spec §3).
// Exactly one of the three outcomes is populated, discriminated by Status.
type EnrollmentResponse struct {
	Status  EnrollmentStatus
	Entity  []byte   // Issued: the entity certificate, DER
	Chain   [][]byte // Issued: the remaining chain, DER, in order
	RequestID uint32 // Pending: the CA's own request id
	Message string   // Rejected: the CA's rejection message
}

// EnrollmentStatus discriminates EnrollmentResponse's variants.
type EnrollmentStatus int

const (
	StatusIssued EnrollmentStatus = iota
	StatusPending
	StatusRejected
)

// Issued builds an Issued EnrollmentResponse.
func Issued(entity []byte, chain [][]byte) EnrollmentResponse {
	return EnrollmentResponse{Status: StatusIssued, Entity: entity, Chain: chain}
}

// Pending builds a Pending EnrollmentResponse.
func Pending(requestID uint32) EnrollmentResponse {
	return EnrollmentResponse{Status: StatusPending, RequestID: requestID}
}

// Rejected builds a Rejected EnrollmentResponse.
func Rejected(message string) EnrollmentResponse {
	return EnrollmentResponse{Status: StatusRejected, Message: message}
}
