// Package enroll implements the enrollment orchestrator (spec §4.8): policy
// resolution across a ranked list of endpoints, then template lookup,
// transport selection, and CMC submission for a single certificate request.
package enroll

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/kerberos"
	"github.com/gravitational/libadcs/internal/ldapdisco"
	"github.com/gravitational/libadcs/internal/model"
	"github.com/gravitational/libadcs/internal/soaptransport"
	"github.com/gravitational/libadcs/internal/xcep"
)

// Options configures policy resolution (spec §4.8's Policy::new).
type Options struct {
	Realm       string
	PolicyID    string
	Endpoints   []model.PolicyEndpoint
	Credentials kerberos.Credentials

	// ClientAuthentication is the mode this caller authenticates HTTPS
	// endpoints with when later submitting; it only affects which
	// advertised endpoints Submit considers (default: TransportKerberos).
	ClientAuthentication model.ClientAuthentication
	// Renewing relaxes endpoint selection to accept renewal-only URIs.
	Renewing bool
}

// CheckAndSetDefaults validates Options and fills in defaults, the same
// FooConfig.CheckAndSetDefaults idiom this repository's teacher uses
// throughout lib/auth: required fields are checked with
// trace.BadParameter, and the caller is freed from repeating the same
// zero-value checks at every call site.
func (o *Options) CheckAndSetDefaults() error {
	if o.Realm == "" {
		return trace.BadParameter("enroll: Realm is required")
	}
	if o.PolicyID == "" {
		return trace.BadParameter("enroll: PolicyID is required")
	}
	if len(o.Endpoints) == 0 {
		return trace.BadParameter("enroll: at least one PolicyEndpoint is required")
	}
	if o.ClientAuthentication == 0 {
		o.ClientAuthentication = model.ClientAuthTransportKerberos
	}
	return nil
}

// Policy is the immutable, adopted result of a successful policy fetch,
// plus the live resources (LDAP session, credentials) later needed by
// Submit.
type Policy struct {
	ldap   *ldapdisco.Manager
	creds  kerberos.Credentials
	opts   Options
	policy model.Policy
	logger *slog.Logger
}

// dependencies are the two collaborators New drives during resolution,
// held as function values so tests can resolve against scripted policies
// without a live directory.
type dependencies struct {
	discover func(realm string, creds kerberos.Credentials) (*ldapdisco.Manager, error)
	fetch    func(ctx context.Context, mgr *ldapdisco.Manager, creds kerberos.Credentials, ep model.PolicyEndpoint, policyID string) (model.Policy, error)
}

func defaultDependencies() dependencies {
	return dependencies{discover: ldapdisco.Discover, fetch: fetchPolicy}
}

// New resolves a policy by trying each endpoint in Options.Endpoints, sorted
// by the total order from spec §3, dispatching by URI scheme, and adopting
// the first fetch whose policy id matches. Every other attempt (failed or
// mismatched) is logged and skipped, not fatal (spec §4.8 steps 1-5).
func New(ctx context.Context, opts Options) (*Policy, error) {
	return newWithDeps(ctx, opts, defaultDependencies())
}

func newWithDeps(ctx context.Context, opts Options, deps dependencies) (*Policy, error) {
	if err := opts.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	logger := slog.Default().With("component", "enroll")

	mgr, err := deps.discover(opts.Realm, opts.Credentials)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sorted := model.SortPolicyEndpoints(opts.Endpoints)
	for _, ep := range sorted {
		fetched, err := deps.fetch(ctx, mgr, opts.Credentials, ep, opts.PolicyID)
		if err != nil {
			logger.WarnContext(ctx, "policy fetch failed, skipping endpoint", "uri", ep.URI, "error", err)
			continue
		}
		if fetched.ID != opts.PolicyID {
			logger.InfoContext(ctx, "policy endpoint returned a different policy id, discarding", "uri", ep.URI, "got", fetched.ID, "want", opts.PolicyID)
			continue
		}
		return &Policy{ldap: mgr, creds: opts.Credentials, opts: opts, policy: fetched, logger: logger}, nil
	}

	mgr.Close()
	return nil, adcserr.NoPolicies(opts.PolicyID)
}

// fetchPolicy dispatches a single endpoint by scheme: https uses MS-XCEP
// GetPolicies, ldap/ldaps reuses the already-open LDAP session to
// enumerate the forest's PKI containers (spec §4.8 step 3).
func fetchPolicy(ctx context.Context, mgr *ldapdisco.Manager, creds kerberos.Credentials, ep model.PolicyEndpoint, policyID string) (model.Policy, error) {
	u, err := url.Parse(ep.URI)
	if err != nil {
		return model.Policy{}, adcserr.InvalidURL(err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		t := transportForAuth(creds, ep.ClientAuthentication)
		return xcep.GetPolicies(ctx, t, ep.URI, policyID, false)
	case "ldap", "ldaps":
		policy, warnings, err := mgr.EnumeratePolicy(policyID)
		if err != nil {
			return model.Policy{}, trace.Wrap(err)
		}
		for _, w := range warnings {
			slog.Default().WarnContext(ctx, "dropped unreadable directory record", "dn", w.DN, "attribute", w.Attribute, "error", w.Err)
		}
		return policy, nil
	default:
		return model.Policy{}, adcserr.UnknownScheme(u.Scheme)
	}
}

// Close releases the underlying LDAP session.
func (p *Policy) Close() error { return p.ldap.Close() }

// transportFor picks this Policy's SOAP transport for a submit-time HTTPS
// endpoint, by its advertised ClientAuthentication (spec §4.8 step 3's
// transport-selection fallback, extended per SPEC_FULL's DOMAIN STACK to
// cover SoapUsernamePassword endpoints via NTLM).
func (p *Policy) transportFor(auth model.ClientAuthentication) *soaptransport.Transport {
	return transportForAuth(p.creds, auth)
}

func transportForAuth(creds kerberos.Credentials, auth model.ClientAuthentication) *soaptransport.Transport {
	if auth == model.ClientAuthSoapUsernamePassword {
		return soaptransport.NewNTLM(creds.Username, creds.Password)
	}
	return soaptransport.New(creds)
}

// RootsAndIntermediates exposes the adopted policy's root and intermediate
// certificate sets (spec §3), for callers that need to hand out the trust
// chain rather than submit a request (certmonger's FETCH-ROOTS operation).
func (p *Policy) RootsAndIntermediates() (roots, intermediates []model.NamedCertificate) {
	return p.policy.RootCertificates, p.policy.IntermediateCertificates
}

// EnrollableTemplateNames returns the CN of every template in the adopted
// policy the caller may enroll for (certmonger's GET-SUPPORTED-TEMPLATES
// operation).
func (p *Policy) EnrollableTemplateNames() []string {
	var out []string
	for _, t := range p.policy.Templates {
		if t.Enroll {
			out = append(out, t.CN)
		}
	}
	return out
}
