package soaptransport

import (
	"encoding/xml"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/libadcs/internal/adcserr"
)

// decodedEnvelope reads back what BuildEnvelope writes. encoding/xml resolves
// the s:/a: prefixes to namespaces when decoding, so envelope's prefixed tags
// only serve for encoding; these tags match on local names instead.
type decodedEnvelope struct {
	Header struct {
		To        string `xml:"To"`
		Action    string `xml:"Action"`
		MessageID string `xml:"MessageID"`
		ReplyTo   struct {
			Address string `xml:"Address"`
		} `xml:"ReplyTo"`
	} `xml:"Header"`
}

func TestBuildEnvelopeCarriesAddressingHeaders(t *testing.T) {
	out, err := BuildEnvelope("https://ca.example.com/ADPolicyProvider_CEP_Kerberos/service.svc", "http://schemas.microsoft.com/windows/pki/2009/01/enrollmentpolicy/IPolicy/GetPolicies", []byte("<payload/>"))
	require.NoError(t, err)

	var env decodedEnvelope
	require.NoError(t, xml.Unmarshal(out, &env))
	require.Equal(t, "https://ca.example.com/ADPolicyProvider_CEP_Kerberos/service.svc", env.Header.To)
	require.Equal(t, "http://schemas.microsoft.com/windows/pki/2009/01/enrollmentpolicy/IPolicy/GetPolicies", env.Header.Action)
	require.Equal(t, anonymousReplyTo, env.Header.ReplyTo.Address)
	require.Contains(t, env.Header.MessageID, "urn:uuid:")
}

func TestBuildEnvelopeMessageIDsAreUnique(t *testing.T) {
	first, err := BuildEnvelope("https://ca.example.com/svc", "action", []byte("<a/>"))
	require.NoError(t, err)
	second, err := BuildEnvelope("https://ca.example.com/svc", "action", []byte("<a/>"))
	require.NoError(t, err)

	var envFirst, envSecond decodedEnvelope
	require.NoError(t, xml.Unmarshal(first, &envFirst))
	require.NoError(t, xml.Unmarshal(second, &envSecond))
	require.NotEqual(t, envFirst.Header.MessageID, envSecond.Header.MessageID)
}

func TestCheckFaultPassesThroughNonFaultBody(t *testing.T) {
	require.NoError(t, checkFault([]byte("<s:Envelope><s:Body><GetPoliciesResponse/></s:Body></s:Envelope>")))
}

func TestCheckFaultDecodesSOAPFault(t *testing.T) {
	body := []byte(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
  <s:Body>
    <s:Fault>
      <s:Code><s:Value>s:Sender</s:Value><s:Subcode><s:Value>a:DestinationUnreachable</s:Value></s:Subcode></s:Code>
      <s:Reason><s:Text>The message could not be processed.</s:Text></s:Reason>
    </s:Fault>
  </s:Body>
</s:Envelope>`)

	err := checkFault(body)
	require.Error(t, err)
	require.True(t, errors.Is(err, adcserr.Protocol))
	require.Contains(t, err.Error(), "s:Sender")
}

func TestExtractNegotiateTokenDecodesLastField(t *testing.T) {
	tok, err := extractNegotiateToken("Negotiate YQ==")
	require.NoError(t, err)
	require.Equal(t, []byte("a"), tok)
}

func TestExtractNegotiateTokenRejectsEmptyHeader(t *testing.T) {
	_, err := extractNegotiateToken("")
	require.Error(t, err)
}

func TestTargetHostStripsSchemeAndPath(t *testing.T) {
	require.Equal(t, "ca.example.com", targetHost("https://ca.example.com/ADPolicyProvider_CEP_Kerberos/service.svc"))
	require.Equal(t, "ca.example.com", targetHost("https://ca.example.com:443/svc"))
	require.Equal(t, "ca.example.com", targetHost("ca.example.com"))
}
