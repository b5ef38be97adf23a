package ldapdisco

import (
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/model"
	"github.com/gravitational/libadcs/internal/sddl"
	"github.com/gravitational/libadcs/internal/sid"
)

var (
	errEmptyAttribute            = trace.NotFound("attribute empty or absent")
	errMalformedEnrollmentServer = trace.BadParameter("malformed msPKI-Enrollment-Servers value")
)

// DecodeWarning is one entry's attribute that could not be decoded during
// enumeration; enumeration records it and skips rather than aborting (spec
// §4.3's "Attribute parsing is defensive").
type DecodeWarning struct {
	DN        string
	Attribute string
	Err       error
}

// DecodeWarnings accumulates non-fatal per-entry decode failures.
type DecodeWarnings []DecodeWarning

func (w *DecodeWarnings) add(dn, attr string, err error) {
	*w = append(*w, DecodeWarning{DN: dn, Attribute: attr, Err: err})
}

// EnumeratePolicy reads the Certificate Templates, Enrollment Services, and
// Certification Authorities containers and assembles a Policy (spec §4.3,
// §4.8's "ldap -> §4.3 enumerate" dispatch). The requested policy id must
// name an enrollment-service object in this forest: cn is the attribute
// identifying a policy on the LDAP path, matched case-insensitively (cn's
// directory matching rule), and a forest with no such service fails the
// fetch so the caller falls through to its next endpoint.
func (m *Manager) EnumeratePolicy(policyID string) (model.Policy, DecodeWarnings, error) {
	var warnings DecodeWarnings

	found, err := m.hasEnrollmentServiceCN(policyID)
	if err != nil {
		return model.Policy{}, warnings, err
	}
	if !found {
		return model.Policy{}, warnings, trace.NotFound("ldapdisco: no enrollment service named %q in this forest", policyID)
	}

	roots, err := m.enumerateRootCAs(&warnings)
	if err != nil {
		return model.Policy{}, warnings, err
	}
	templates, err := m.enumerateTemplates(&warnings)
	if err != nil {
		return model.Policy{}, warnings, err
	}
	services, err := m.enumerateEnrollmentServices(&warnings)
	if err != nil {
		return model.Policy{}, warnings, err
	}

	policy := model.Policy{
		ID:                       policyID,
		EnrollmentServices:       services,
		Templates:                templates,
		RootCertificates:         roots,
		IntermediateCertificates: model.ComputeIntermediates(services, roots),
	}
	return policy, warnings, nil
}

// hasEnrollmentServiceCN reports whether the Enrollment Services container
// holds a pKIEnrollmentService object whose cn is policyID. The comparison
// rides on the directory's own cn matching rule, which is case-insensitive.
func (m *Manager) hasEnrollmentServiceCN(policyID string) (bool, error) {
	res, err := m.oneLevelSearch(
		m.rootDSE.EnrollmentServicesContainer(),
		"(&(objectClass=pKIEnrollmentService)(cn="+ldap.EscapeFilter(policyID)+"))",
		[]string{"cn"},
		nil,
	)
	if err != nil {
		return false, err
	}
	return len(res.Entries) > 0, nil
}

func (m *Manager) oneLevelSearch(baseDN, filter string, attrs []string, controls []ldap.Control) (*ldap.SearchResult, error) {
	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
		filter, attrs, controls,
	)
	res, err := m.conn.Search(req)
	if err != nil {
		return nil, adcserr.LDAPOperation("search "+baseDN, err)
	}
	return res, nil
}

func (m *Manager) enumerateRootCAs(warnings *DecodeWarnings) ([]model.NamedCertificate, error) {
	res, err := m.oneLevelSearch(
		m.rootDSE.CertificationAuthoritiesContainer(),
		"(objectClass=certificationAuthority)",
		[]string{"cn", "cACertificate"},
		nil,
	)
	if err != nil {
		return nil, err
	}
	var out []model.NamedCertificate
	for _, entry := range res.Entries {
		raw := entry.GetRawAttributeValue("cACertificate")
		if len(raw) == 0 {
			warnings.add(entry.DN, "cACertificate", adcserr.InvalidX509(errEmptyAttribute))
			continue
		}
		cert := model.NamedCertificate{Nickname: entry.GetAttributeValue("cn"), DER: raw}
		if _, err := cert.Certificate(); err != nil {
			warnings.add(entry.DN, "cACertificate", adcserr.InvalidX509(err))
			continue
		}
		out = append(out, cert)
	}
	return out, nil
}

func (m *Manager) enumerateTemplates(warnings *DecodeWarnings) ([]model.CertificateTemplate, error) {
	res, err := m.oneLevelSearch(
		m.rootDSE.CertificateTemplatesContainer(),
		"(objectClass=pKICertificateTemplate)",
		[]string{"cn", "nTSecurityDescriptor"},
		[]ldap.Control{m.sdFlags},
	)
	if err != nil {
		return nil, err
	}

	var out []model.CertificateTemplate
	for _, entry := range res.Entries {
		rawSD := entry.GetRawAttributeValue("nTSecurityDescriptor")
		if len(rawSD) == 0 {
			warnings.add(entry.DN, "nTSecurityDescriptor", errEmptyAttribute)
			continue
		}
		sd, err := sddl.Parse(rawSD)
		if err != nil {
			warnings.add(entry.DN, "nTSecurityDescriptor", err)
			continue
		}

		identify := func(subject sid.SID) bool {
			if subject.Equal(m.principal.SID) {
				return true
			}
			isMember, err := m.IsMemberOfGroupSID(m.principal.SID, subject)
			return err == nil && isMember
		}

		// Extensions stay empty on this path: only XCEP's GetPolicies
		// response carries template extension OIDs/values; the directory
		// objects read here contribute just the name and the computed
		// enroll/auto-enroll permissions.
		out = append(out, model.CertificateTemplate{
			CN:         entry.GetAttributeValue("cn"),
			Enroll:     sd.HasObjectPermission(sddl.EnrollRight, identify),
			AutoEnroll: sd.HasObjectPermission(sddl.AutoEnrollRight, identify),
		})
	}
	return out, nil
}

func (m *Manager) enumerateEnrollmentServices(warnings *DecodeWarnings) ([]model.EnrollmentService, error) {
	res, err := m.oneLevelSearch(
		m.rootDSE.EnrollmentServicesContainer(),
		"(objectClass=pKIEnrollmentService)",
		[]string{"cn", "cACertificate", "certificateTemplates", "dNSHostName", "msPKI-Enrollment-Servers"},
		nil,
	)
	if err != nil {
		return nil, err
	}

	var out []model.EnrollmentService
	for _, entry := range res.Entries {
		raw := entry.GetRawAttributeValue("cACertificate")
		if len(raw) == 0 {
			warnings.add(entry.DN, "cACertificate", adcserr.InvalidX509(errEmptyAttribute))
			continue
		}
		cert := model.NamedCertificate{Nickname: entry.GetAttributeValue("cn"), DER: raw}
		if _, err := cert.Certificate(); err != nil {
			warnings.add(entry.DN, "cACertificate", adcserr.InvalidX509(err))
			continue
		}

		svc := model.EnrollmentService{
			Certificate:   cert,
			TemplateNames: entry.GetAttributeValues("certificateTemplates"),
			RPCEndpoint:   entry.GetAttributeValue("dNSHostName"),
		}
		for _, raw := range entry.GetAttributeValues("msPKI-Enrollment-Servers") {
			endpoint, err := parseEnrollmentServerValue(raw)
			if err != nil {
				warnings.add(entry.DN, "msPKI-Enrollment-Servers", err)
				continue
			}
			svc.HTTPSEndpoints = append(svc.HTTPSEndpoints, endpoint)
		}
		out = append(out, svc)
	}
	return out, nil
}

// parseEnrollmentServerValue decodes one msPKI-Enrollment-Servers value:
// "<priority>\n<clientAuthentication>\n<renewalOnly: 0|1>\n<uri>".
func parseEnrollmentServerValue(raw string) (model.HttpsEndpoint, error) {
	parts := strings.Split(raw, "\n")
	if len(parts) < 4 {
		return model.HttpsEndpoint{}, errMalformedEnrollmentServer
	}
	priority, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return model.HttpsEndpoint{}, errMalformedEnrollmentServer
	}
	clientAuth, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return model.HttpsEndpoint{}, errMalformedEnrollmentServer
	}
	return model.HttpsEndpoint{
		URI:                  parts[3],
		ClientAuthentication: model.ClientAuthentication(clientAuth),
		RenewalOnly:          parts[2] == "1",
		Priority:             uint32(priority),
	}, nil
}
