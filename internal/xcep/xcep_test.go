package xcep

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/libadcs/internal/model"
)

var getPoliciesFixture = []byte(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
  <s:Body>
    <GetPoliciesResponse xmlns="http://schemas.microsoft.com/windows/pki/2009/01/enrollmentpolicy">
      <response>
        <policyID>{11111111-2222-3333-4444-555555555555}</policyID>
      </response>
      <cAs>
        <cA>
          <uris>
            <uri>
              <clientAuthentication>2</clientAuthentication>
              <uri>https://ca01.corp.example.com/CA01_CES_Kerberos/service.svc/CES</uri>
              <priority>1</priority>
              <renewalOnly>false</renewalOnly>
            </uri>
            <uri>
              <clientAuthentication>2</clientAuthentication>
              <uri>https://ca01-renew.corp.example.com/service.svc/CES</uri>
              <priority>2</priority>
              <renewalOnly>true</renewalOnly>
            </uri>
          </uris>
          <certificate>` + base64.StdEncoding.EncodeToString([]byte("fake-ca-certificate")) + `</certificate>
          <certificateReference>0</certificateReference>
        </cA>
      </cAs>
      <policies>
        <policy>
          <policyOIDReference>0</policyOIDReference>
          <cAs>
            <cAReference>0</cAReference>
          </cAs>
          <attributes>
            <commonName>WebServer</commonName>
            <permission>
              <enroll>true</enroll>
              <autoEnroll>false</autoEnroll>
            </permission>
            <extensions>
              <extension>
                <oid>1.3.6.1.4.1.311.20.2</oid>
                <value>` + base64.StdEncoding.EncodeToString([]byte("WebServer")) + `</value>
              </extension>
            </extensions>
          </attributes>
        </policy>
      </policies>
    </GetPoliciesResponse>
  </s:Body>
</s:Envelope>`)

func TestDecodeGetPoliciesResponse(t *testing.T) {
	policy, err := decodeGetPoliciesResponse(getPoliciesFixture)
	require.NoError(t, err)

	require.Equal(t, "{11111111-2222-3333-4444-555555555555}", policy.ID)

	require.Len(t, policy.Templates, 1)
	tmpl := policy.Templates[0]
	require.Equal(t, "WebServer", tmpl.CN)
	require.True(t, tmpl.Enroll)
	require.False(t, tmpl.AutoEnroll)
	require.Len(t, tmpl.Extensions, 1)
	require.Equal(t, "1.3.6.1.4.1.311.20.2", tmpl.Extensions[0].OID)
	require.Equal(t, [][]byte{[]byte("WebServer")}, tmpl.Extensions[0].Values)

	require.Len(t, policy.EnrollmentServices, 1)
	svc := policy.EnrollmentServices[0]
	require.Equal(t, []byte("fake-ca-certificate"), svc.Certificate.DER)
	require.Equal(t, []string{"WebServer"}, svc.TemplateNames)
	require.Len(t, svc.HTTPSEndpoints, 2)
	require.Equal(t, "https://ca01.corp.example.com/CA01_CES_Kerberos/service.svc/CES", svc.HTTPSEndpoints[0].URI)
	require.Equal(t, model.ClientAuthTransportKerberos, svc.HTTPSEndpoints[0].ClientAuthentication)
	require.Equal(t, uint32(1), svc.HTTPSEndpoints[0].Priority)
	require.False(t, svc.HTTPSEndpoints[0].RenewalOnly)
	require.True(t, svc.HTTPSEndpoints[1].RenewalOnly)

	// No root set came back, so the CA certificate counts as chain material.
	require.Len(t, policy.IntermediateCertificates, 1)
	require.True(t, policy.IntermediateCertificates[0].Equal(svc.Certificate))
}

func TestDecodeGetPoliciesResponseRejectsNonXML(t *testing.T) {
	_, err := decodeGetPoliciesResponse([]byte("not xml at all"))
	require.Error(t, err)
}

func TestDecodeEnrollResponse(t *testing.T) {
	cmcBytes := []byte("cmc-response-bytes")
	body := []byte(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
  <s:Body>
    <RequestSecurityTokenResponseCollection xmlns="http://docs.oasis-open.org/ws-sx/ws-trust/200512">
      <RequestSecurityTokenResponse>
        <RequestedSecurityToken>
          <BinarySecurityToken ValueType="http://schemas.microsoft.com/windows/pki/2009/01/enrollment#PKCS7">` +
		base64.StdEncoding.EncodeToString(cmcBytes) + `</BinarySecurityToken>
        </RequestedSecurityToken>
      </RequestSecurityTokenResponse>
    </RequestSecurityTokenResponseCollection>
  </s:Body>
</s:Envelope>`)

	out, err := decodeEnrollResponse(body)
	require.NoError(t, err)
	require.Equal(t, cmcBytes, out)
}

func TestDecodeEnrollResponseEmptyCollection(t *testing.T) {
	body := []byte(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
  <s:Body>
    <RequestSecurityTokenResponseCollection xmlns="http://docs.oasis-open.org/ws-sx/ws-trust/200512"/>
  </s:Body>
</s:Envelope>`)
	_, err := decodeEnrollResponse(body)
	require.Error(t, err)
}
