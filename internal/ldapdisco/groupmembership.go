package ldapdisco

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/sid"
)

// transitiveGroupMatchingRule is AD's transitive-group-membership LDAP
// matching rule OID (spec §4.3).
const transitiveGroupMatchingRule = "1.2.840.113556.1.4.1941"

// IsMemberOf reports whether the given subject SID is a direct or
// transitive member of groupDN, per spec §4.3's group-membership test. The
// result is cached for the lifetime of the Manager (spec §5's "group
// membership cache (SID -> bool), owned by the LdapManager").
func (m *Manager) IsMemberOf(subject sid.SID, groupDN string) (bool, error) {
	key := groupDN + "\x00" + subject.String()
	if cached, ok := m.groupCache[key]; ok {
		return cached, nil
	}

	filter := fmt.Sprintf(
		"(&(memberOf:%s:=%s)(objectSid=%s))",
		transitiveGroupMatchingRule,
		ldap.EscapeFilter(groupDN),
		subject.FilterEscape(),
	)
	req := ldap.NewSearchRequest(
		m.rootDSE.DefaultNamingContext,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"dn"},
		nil,
	)
	res, err := m.conn.Search(req)
	if err != nil {
		return false, adcserr.LDAPOperation("group membership search", err)
	}

	isMember := len(res.Entries) > 0
	m.groupCache[key] = isMember
	return isMember, nil
}

// IsMemberOfGroupSID answers the same question as IsMemberOf for a group
// known only by its SID, as it appears in an ACE's subject field: the
// group object is first resolved to its DN by objectSid, then the
// transitive-membership filter runs against that DN. A SID that resolves
// to no object in the forest is treated as "not a member" rather than an
// error, since DACLs routinely carry SIDs from trusted foreign domains.
func (m *Manager) IsMemberOfGroupSID(subject, group sid.SID) (bool, error) {
	key := group.String() + "\x00" + subject.String()
	if cached, ok := m.groupCache[key]; ok {
		return cached, nil
	}

	groupDN, err := m.dnForSID(group)
	if err != nil {
		return false, err
	}
	if groupDN == "" {
		m.groupCache[key] = false
		return false, nil
	}
	isMember, err := m.IsMemberOf(subject, groupDN)
	if err != nil {
		return false, err
	}
	m.groupCache[key] = isMember
	return isMember, nil
}

// dnForSID resolves the directory object carrying the given objectSid,
// returning its DN, or "" if no object matches.
func (m *Manager) dnForSID(s sid.SID) (string, error) {
	req := ldap.NewSearchRequest(
		m.rootDSE.DefaultNamingContext,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		"(objectSid="+s.FilterEscape()+")",
		[]string{"dn"},
		nil,
	)
	res, err := m.conn.Search(req)
	if err != nil {
		return "", adcserr.LDAPOperation("sid-to-dn search", err)
	}
	if len(res.Entries) == 0 {
		return "", nil
	}
	return res.Entries[0].DN, nil
}
