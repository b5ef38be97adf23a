package xcep

import (
	"context"
	"encoding/base64"
	"encoding/xml"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/soaptransport"
)

const (
	wstrustAction = "http://schemas.xmlsoap.org/ws/2005/02/trust/RSTR/wstep"

	valueTypePKCS7   = "http://schemas.microsoft.com/windows/pki/2009/01/enrollment#PKCS7"
	encodingTypeB64  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#base64binary"
	requestTypeIssue = "http://docs.oasis-open.org/ws-sx/ws-trust/200512/Issue"
	tokenTypeX509    = "http://docs.oasis-open.org/wss/oasis-wss-soap-message-security-1.1#X509v3"
)

type requestSecurityToken struct {
	XMLName              xml.Name `xml:"wst:RequestSecurityToken"`
	NSWst                string   `xml:"xmlns:wst,attr"`
	TokenType            string   `xml:"wst:TokenType"`
	RequestType           string   `xml:"wst:RequestType"`
	BinarySecurityToken   binarySecurityToken `xml:"wsse:BinarySecurityToken"`
	NSWsse                string   `xml:"xmlns:wsse,attr"`
}

type binarySecurityToken struct {
	ValueType    string `xml:"ValueType,attr"`
	EncodingType string `xml:"EncodingType,attr"`
	Value        string `xml:",chardata"`
}

// soapBodyContent strips the SOAP 1.2 envelope a response arrives in and
// returns the Body element's inner XML, which both response decoders then
// unmarshal into their own typed structs.
func soapBodyContent(respBody []byte) ([]byte, error) {
	var env struct {
		Body struct {
			Inner []byte `xml:",innerxml"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(respBody, &env); err != nil {
		return nil, trace.Wrap(err, "xcep: decode response envelope")
	}
	if len(env.Body.Inner) == 0 {
		return nil, trace.BadParameter("xcep: response envelope carries an empty body")
	}
	return env.Body.Inner, nil
}

type requestSecurityTokenResponseCollection struct {
	XMLName   xml.Name `xml:"RequestSecurityTokenResponseCollection"`
	Responses []struct {
		RequestedSecurityToken struct {
			BinarySecurityToken binarySecurityToken `xml:"BinarySecurityToken"`
		} `xml:"RequestedSecurityToken"`
	} `xml:"RequestSecurityTokenResponse"`
}

// Enroll submits cmcBytes (a full CMC request envelope) to the WS-Trust
// enrollment endpoint at uri and returns the CMC response bytes carried in
// the first RequestSecurityTokenResponse's BinarySecurityToken (spec §4.6).
func Enroll(ctx context.Context, t *soaptransport.Transport, uri string, cmcBytes []byte) ([]byte, error) {
	req := requestSecurityToken{
		NSWst:       "http://docs.oasis-open.org/ws-sx/ws-trust/200512",
		NSWsse:      "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd",
		TokenType:   tokenTypeX509,
		RequestType: requestTypeIssue,
		BinarySecurityToken: binarySecurityToken{
			ValueType:    valueTypePKCS7,
			EncodingType: encodingTypeB64,
			Value:        base64.StdEncoding.EncodeToString(cmcBytes),
		},
	}
	payload, err := xml.Marshal(req)
	if err != nil {
		return nil, trace.Wrap(err, "xcep: marshal RequestSecurityToken")
	}

	respBody, err := t.Call(ctx, uri, wstrustAction, payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return decodeEnrollResponse(respBody)
}

// decodeEnrollResponse extracts the CMC response bytes from a
// RequestSecurityTokenResponseCollection body.
func decodeEnrollResponse(respBody []byte) ([]byte, error) {
	inner, err := soapBodyContent(respBody)
	if err != nil {
		return nil, err
	}
	var resp requestSecurityTokenResponseCollection
	if err := xml.Unmarshal(inner, &resp); err != nil {
		return nil, trace.Wrap(err, "xcep: decode RequestSecurityTokenResponseCollection")
	}
	if len(resp.Responses) == 0 {
		return nil, trace.NotFound("xcep: no RequestSecurityTokenResponse in collection")
	}
	token := resp.Responses[0].RequestedSecurityToken.BinarySecurityToken.Value
	out, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, trace.Wrap(err, "xcep: decode binary security token")
	}
	return out, nil
}
