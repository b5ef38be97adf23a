package ldapdisco

import (
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/model"
	"github.com/gravitational/libadcs/internal/sid"
)

// loadPrincipal resolves the caller's identity: WhoAmI returns
// "u:DOMAIN\sam", then sAMAccountName is re-queried against the root-domain
// naming context to fetch objectSid, msDS-PrincipalName, and
// distinguishedName (spec §4.3).
func (m *Manager) loadPrincipal() error {
	res, err := m.conn.WhoAmI(nil)
	if err != nil {
		return adcserr.LDAPOperation("whoami", err)
	}
	sam, ok := parseWhoAmI(res.AuthzID)
	if !ok {
		return adcserr.NoPrincipal(res.AuthzID)
	}

	req := ldap.NewSearchRequest(
		m.rootDSE.RootDomainNamingContext,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		"(sAMAccountName="+ldap.EscapeFilter(sam)+")",
		[]string{"objectSid", "msDS-PrincipalName", "distinguishedName"},
		nil,
	)
	search, err := m.conn.Search(req)
	if err != nil {
		return adcserr.LDAPOperation("search principal", err)
	}
	if len(search.Entries) != 1 {
		return adcserr.NoPrincipal(res.AuthzID)
	}
	entry := search.Entries[0]

	objectSID, err := sid.FromBytes([]byte(entry.GetRawAttributeValue("objectSid")))
	if err != nil {
		return adcserr.NoPrincipal(res.AuthzID)
	}

	m.principal = model.Principal{
		SID:               objectSID,
		PrincipalName:     entry.GetAttributeValue("msDS-PrincipalName"),
		DistinguishedName: entry.GetAttributeValue("distinguishedName"),
	}
	return nil
}

// parseWhoAmI extracts the sAMAccountName from a "u:DOMAIN\sam" authzid.
func parseWhoAmI(authzID string) (string, bool) {
	rest, ok := strings.CutPrefix(authzID, "u:")
	if !ok {
		return "", false
	}
	idx := strings.LastIndexByte(rest, '\\')
	if idx < 0 || idx == len(rest)-1 {
		return "", false
	}
	return rest[idx+1:], true
}
