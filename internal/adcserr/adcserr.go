// Package adcserr defines the error taxonomy shared across the ADCS
// enrollment packages. Every exported constructor here wraps a
// gravitational/trace error so callers retain tracebacks while still being
// able to classify failures with errors.Is.
package adcserr

import (
	"fmt"

	"github.com/gravitational/trace"
)

// category distinguishes the taxonomy buckets from spec §7. Each sentinel
// below carries exactly one of these so callers can classify with errors.Is
// without string-matching messages.
type category struct {
	name string
}

func (c *category) Error() string { return c.name }

var (
	// Configuration errors: unknown scheme, missing environment variable,
	// invalid URL.
	Configuration = &category{"configuration"}
	// Discovery errors: no SRV record, all bind attempts failed, root-DSE
	// missing required attributes, WhoAmI returned no principal.
	Discovery = &category{"discovery"}
	// Protocol errors: LDAP operation failure, SOAP fault, HTTP non-200/401,
	// RPC status code.
	Protocol = &category{"protocol"}
	// Encoding errors: DER/ASN.1 decode failure, PEM parse error, base64
	// decode error, invalid X.509.
	Encoding = &category{"encoding"}
	// Semantic errors: template not found, template not grantable, no
	// enrollment service supports template, policy id not found.
	Semantic = &category{"semantic"}
)

// taggedError pairs an underlying trace.Error with its taxonomy category so
// errors.Is(err, adcserr.Discovery) works after trace.Wrap/fmt.Errorf
// wrapping anywhere up the call stack.
type taggedError struct {
	cat *category
	err error
}

func (t *taggedError) Error() string { return t.err.Error() }
func (t *taggedError) Unwrap() error { return t.err }
func (t *taggedError) Is(target error) bool {
	c, ok := target.(*category)
	return ok && c == t.cat
}

func tag(cat *category, err error) error {
	return &taggedError{cat: cat, err: err}
}

// NoSRVRecords reports that DNS SRV resolution produced no global-catalog
// candidates for any trimmed domain suffix of realm; errs holds one error
// per lookup attempted.
func NoSRVRecords(realm string, errs []error) error {
	if len(errs) == 0 {
		return tag(Discovery, trace.NotFound("no SRV records found for global catalog under any suffix of %q", realm))
	}
	return tag(Discovery, trace.Wrap(joinErrs(errs), "no SRV records found for global catalog under any suffix of %q", realm))
}

// AllBindsFailed reports that every ranked SRV target refused SASL-GSSAPI
// bind; errs holds one wrapped error per attempt in ranked order.
func AllBindsFailed(errs []error) error {
	return tag(Discovery, trace.ConnectionProblem(joinErrs(errs), "all %d global-catalog bind attempts failed", len(errs)))
}

// RootDSEMissingAttribute reports that the root DSE lacked a required
// naming-context attribute.
func RootDSEMissingAttribute(attr string) error {
	return tag(Discovery, trace.NotFound("root DSE missing required attribute %q", attr))
}

// NoPrincipal reports that the WhoAmI extended operation returned a value
// that could not be parsed into a principal identity.
func NoPrincipal(raw string) error {
	return tag(Discovery, trace.NotFound("WhoAmI returned no usable principal (raw response %q)", raw))
}

// InvalidURL reports a policy or enrollment endpoint URI that failed to
// parse.
func InvalidURL(err error) error {
	return tag(Configuration, trace.Wrap(err, "invalid endpoint URL"))
}

// UnknownScheme reports a policy or enrollment endpoint URI whose scheme
// this module does not know how to dispatch.
func UnknownScheme(scheme string) error {
	return tag(Configuration, trace.BadParameter("unknown endpoint scheme %q", scheme))
}

// LDAPOperation wraps a failure from the underlying LDAP client.
func LDAPOperation(op string, err error) error {
	return tag(Protocol, trace.Wrap(err, "ldap %s failed", op))
}

// SOAPFault reports a structured SOAP 1.2 Fault returned by the server.
type SOAPFault struct {
	Code    string
	Subcode string
	Reason  []string
	Node    string
	Role    string
	Detail  string
}

func (f *SOAPFault) Error() string {
	if len(f.Reason) > 0 {
		return fmt.Sprintf("soap fault %s: %s", f.Code, f.Reason[0])
	}
	return fmt.Sprintf("soap fault %s", f.Code)
}

// Fault wraps a parsed SOAP fault into the Protocol taxonomy.
func Fault(f *SOAPFault) error {
	return tag(Protocol, trace.Wrap(f, "soap fault"))
}

// HTTPStatus reports an HTTP response outside {200, 401} during the
// negotiate loop, or any non-200 from a non-negotiating POST.
func HTTPStatus(status int, body string) error {
	return tag(Protocol, trace.Errorf("unexpected HTTP status %d: %s", status, body))
}

// RPCStatus reports a non-success MS-ICPR disposition that does not map to
// Issued or Pending (the Rejected case is a normal return value, not this
// error).
func RPCStatus(code uint32, message string) error {
	return tag(Protocol, trace.Errorf("rpc call failed with status 0x%08x: %s", code, message))
}

// DecodeFailure reports a DER/ASN.1 decode failure at a specific byte
// offset, naming what was expected versus what was found.
type DecodeFailure struct {
	Offset   int
	Expected string
	Found    string
}

func (d *DecodeFailure) Error() string {
	return fmt.Sprintf("der decode failed at offset %d: expected %s, found %s", d.Offset, d.Expected, d.Found)
}

// Decode wraps a DecodeFailure into the Encoding taxonomy.
func Decode(d *DecodeFailure) error {
	return tag(Encoding, trace.Wrap(d))
}

// InvalidX509 reports a certificate that failed to parse.
func InvalidX509(err error) error {
	return tag(Encoding, trace.Wrap(err, "invalid X.509 certificate"))
}

// TemplateNotFound reports that the requested template name is absent from
// the adopted policy (a present but non-enrollable template is reported by
// TemplateNotGrantable instead).
func TemplateNotFound(name string) error {
	return tag(Semantic, trace.NotFound("template %q not found in policy", name))
}

// TemplateNotGrantable reports that the template exists but its security
// descriptor does not grant Enroll to the caller.
func TemplateNotGrantable(name string) error {
	return tag(Semantic, trace.AccessDenied("template %q does not grant enroll permission to the caller", name))
}

// NoEnrollmentService reports that no enrollment service in the adopted
// policy lists the requested template.
func NoEnrollmentService(template string) error {
	return tag(Semantic, trace.NotFound("no enrollment service supports template %q", template))
}

// NoPolicies reports that no configured policy endpoint produced the
// requested policy id.
func NoPolicies(id string) error {
	return tag(Semantic, trace.NotFound("no policy endpoint returned policy id %q", id))
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return trace.Errorf("%s", msg)
}
