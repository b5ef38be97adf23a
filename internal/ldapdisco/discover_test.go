package ldapdisco

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/libadcs/internal/model"
)

func TestCandidateDomainsTrimsLeftward(t *testing.T) {
	require.Equal(t,
		[]string{"eu.corp.example.com", "corp.example.com", "example.com", "com"},
		candidateDomains("eu.corp.example.com"))
	require.Equal(t, []string{"com"}, candidateDomains("com"))
}

func TestRankSRVOrdersByPriorityFirst(t *testing.T) {
	addrs := []*net.SRV{
		{Target: "dc2.example.com.", Port: 3268, Priority: 20, Weight: 100},
		{Target: "dc1.example.com.", Port: 3268, Priority: 10, Weight: 1},
		{Target: "dc3.example.com.", Port: 3268, Priority: 30, Weight: 50},
	}
	ranked := rankSRV("ldap", addrs)
	require.Len(t, ranked, 3)
	require.Equal(t, "dc1.example.com", ranked[0].host)
	require.Equal(t, "dc2.example.com", ranked[1].host)
	require.Equal(t, "dc3.example.com", ranked[2].host)
	require.Equal(t, uint16(3268), ranked[0].port)
	require.Equal(t, "ldap", ranked[0].scheme)
}

func TestRankSRVKeepsEveryRecordWithinATier(t *testing.T) {
	addrs := []*net.SRV{
		{Target: "a.example.com.", Priority: 10, Weight: 10},
		{Target: "b.example.com.", Priority: 10, Weight: 90},
		{Target: "c.example.com.", Priority: 10, Weight: 50},
	}
	ranked := rankSRV("ldaps", addrs)
	hosts := map[string]bool{}
	for _, r := range ranked {
		hosts[r.host] = true
	}
	require.Len(t, hosts, 3)
}

func TestSDFlagsControlEncodesDACLOnlyRequest(t *testing.T) {
	ctrl := sdFlagsControl()
	require.Equal(t, sdFlagsControlOID, ctrl.GetControlType())
	encoded := ctrl.Encode()
	// The control value is SEQUENCE { INTEGER 7 }.
	require.Contains(t, string(encoded.Bytes()), string([]byte{0x30, 0x03, 0x02, 0x01, 0x07}))
}

func TestParseWhoAmI(t *testing.T) {
	sam, ok := parseWhoAmI(`u:CORP\svc-enroll`)
	require.True(t, ok)
	require.Equal(t, "svc-enroll", sam)

	_, ok = parseWhoAmI("dn:CN=Someone,DC=corp,DC=example,DC=com")
	require.False(t, ok)
	_, ok = parseWhoAmI(`u:CORP\`)
	require.False(t, ok)
	_, ok = parseWhoAmI("u:no-backslash")
	require.False(t, ok)
}

func TestParseEnrollmentServerValue(t *testing.T) {
	ep, err := parseEnrollmentServerValue("1\n2\n0\nhttps://ca01.corp.example.com/CA01_CES_Kerberos/service.svc/CES")
	require.NoError(t, err)
	require.Equal(t, model.HttpsEndpoint{
		URI:                  "https://ca01.corp.example.com/CA01_CES_Kerberos/service.svc/CES",
		ClientAuthentication: model.ClientAuthTransportKerberos,
		RenewalOnly:          false,
		Priority:             1,
	}, ep)

	renew, err := parseEnrollmentServerValue("2\n4\n1\nhttps://ca01.corp.example.com/renew")
	require.NoError(t, err)
	require.True(t, renew.RenewalOnly)
	require.Equal(t, model.ClientAuthSoapUsernamePassword, renew.ClientAuthentication)

	_, err = parseEnrollmentServerValue("not-enough-fields")
	require.Error(t, err)
	_, err = parseEnrollmentServerValue("x\n2\n0\nhttps://ca")
	require.Error(t, err)
}
