package ldapdisco

import (
	"github.com/go-ldap/ldap/v3"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/model"
)

// loadRootDSE queries the root DSE and derives the three Public Key
// Services container DNs (spec §4.3).
func (m *Manager) loadRootDSE() error {
	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		[]string{"configurationNamingContext", "rootDomainNamingContext", "defaultNamingContext"},
		nil,
	)
	res, err := m.conn.Search(req)
	if err != nil {
		return adcserr.LDAPOperation("search root DSE", err)
	}
	if len(res.Entries) != 1 {
		return adcserr.RootDSEMissingAttribute("(root DSE entry)")
	}
	entry := res.Entries[0]

	get := func(attr string) (string, error) {
		v := entry.GetAttributeValue(attr)
		if v == "" {
			return "", adcserr.RootDSEMissingAttribute(attr)
		}
		return v, nil
	}

	config, err := get("configurationNamingContext")
	if err != nil {
		return err
	}
	rootDomain, err := get("rootDomainNamingContext")
	if err != nil {
		return err
	}
	defaultNC, err := get("defaultNamingContext")
	if err != nil {
		return err
	}

	m.rootDSE = model.RootDSE{
		ConfigurationNamingContext: config,
		RootDomainNamingContext:    rootDomain,
		DefaultNamingContext:       defaultNC,
	}
	return nil
}
