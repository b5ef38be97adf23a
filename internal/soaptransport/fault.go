package soaptransport

import (
	"encoding/xml"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/adcserr"
)

type faultEnvelope struct {
	Body struct {
		Fault struct {
			Code struct {
				Value   string `xml:"Value"`
				Subcode struct {
					Value string `xml:"Value"`
				} `xml:"Subcode"`
			} `xml:"Code"`
			Reason struct {
				Text []string `xml:"Text"`
			} `xml:"Reason"`
			Node   string `xml:"Node"`
			Role   string `xml:"Role"`
			Detail string `xml:"Detail"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// parseFault decodes a SOAP 1.2 Fault element into adcserr.SOAPFault (spec
// §4.5's "Fault detection").
func parseFault(body []byte) error {
	var env faultEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return trace.Wrap(err, "soaptransport: decode fault")
	}
	f := env.Body.Fault
	fault := &adcserr.SOAPFault{
		Code:    f.Code.Value,
		Subcode: f.Code.Subcode.Value,
		Reason:  f.Reason.Text,
		Node:    f.Node,
		Role:    f.Role,
		Detail:  f.Detail,
	}
	return adcserr.Fault(fault)
}
