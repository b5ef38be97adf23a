// Package soaptransport builds SOAP 1.2 envelopes with WS-Addressing
// headers and posts them over HTTP with a multi-step SPNEGO Negotiate
// handshake (spec §4.5).
package soaptransport

import (
	"encoding/xml"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

const (
	nsSOAP = "http://www.w3.org/2003/05/soap-envelope"
	nsAddr = "http://www.w3.org/2005/08/addressing"
)

type envelope struct {
	XMLName xml.Name `xml:"s:Envelope"`
	NSSoap  string   `xml:"xmlns:s,attr"`
	NSAddr  string   `xml:"xmlns:a,attr"`
	Header  header   `xml:"s:Header"`
	Body    body     `xml:"s:Body"`
}

type header struct {
	To        string `xml:"a:To"`
	Action    string `xml:"a:Action"`
	MessageID string `xml:"a:MessageID"`
	ReplyTo   replyTo `xml:"a:ReplyTo"`
}

type replyTo struct {
	Address string `xml:"a:Address"`
}

type body struct {
	Inner []byte `xml:",innerxml"`
}

const anonymousReplyTo = "http://www.w3.org/2005/08/addressing/anonymous"

// BuildEnvelope wraps payload (an already-serialized XCEP or WS-Trust
// element) in a SOAP 1.2 envelope with the WS-Addressing headers spec
// §4.5 requires: To, Action, a fresh MessageID, and an anonymous ReplyTo.
func BuildEnvelope(to, action string, payload []byte) ([]byte, error) {
	env := envelope{
		NSSoap: nsSOAP,
		NSAddr: nsAddr,
		Header: header{
			To:        to,
			Action:    action,
			MessageID: "urn:uuid:" + uuid.NewString(),
			ReplyTo:   replyTo{Address: anonymousReplyTo},
		},
		Body: body{Inner: payload},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, trace.Wrap(err, "soaptransport: marshal envelope")
	}
	return append([]byte(xml.Header), out...), nil
}
