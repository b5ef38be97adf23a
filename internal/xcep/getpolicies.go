// Package xcep implements the MS-XCEP GetPolicies binding and the
// MS-WSTEP RequestSecurityToken binding used to submit a CMC request over
// SOAP (spec §4.6).
package xcep

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/model"
	"github.com/gravitational/libadcs/internal/soaptransport"
)

const (
	xcepAction   = "http://schemas.microsoft.com/windows/pki/2009/01/enrollmentpolicy/IPolicy/GetPolicies"
	historicalAnchor = 24 // months, per spec §4.6's fallback when a server insists on a historical client.lastUpdate
)

type getPoliciesRequest struct {
	XMLName xml.Name `xml:"xcep:GetPolicies"`
	NSXcep  string   `xml:"xmlns:xcep,attr"`
	Client  struct {
		LastUpdate         string `xml:"xcep:lastUpdate"`
		PreferredLanguage  string `xml:"xcep:preferredLanguage"`
	} `xml:"xcep:client"`
	RequestFilter struct {
		PolicyOIDs string `xml:"xcep:policyOIDs,omitempty"`
	} `xml:"xcep:requestFilter"`
}

type getPoliciesResponse struct {
	XMLName  xml.Name `xml:"GetPoliciesResponse"`
	Response struct {
		PolicyID string `xml:"policyID"`
	} `xml:"response"`
	CAs struct {
		CA []struct {
			URIs struct {
				URI []struct {
					ClientAuthentication uint32 `xml:"clientAuthentication"`
					Priority             uint32 `xml:"priority"`
					RenewalOnly          bool   `xml:"renewalOnly"`
					URI                  string `xml:"uri"`
				} `xml:"uri"`
			} `xml:"uris"`
			CertificateReference string `xml:"certificateReference"`
			Certificate          string `xml:"certificate"`
		} `xml:"cA"`
	} `xml:"cAs"`
	Policies struct {
		Policy []struct {
			PolicyOIDReference string `xml:"policyOIDReference"`
			CAs                struct {
				CAReference []string `xml:"cAReference"`
			} `xml:"cAs"`
			Attributes struct {
				CommonName string `xml:"commonName"`
				Permission struct {
					Enroll     bool `xml:"enroll"`
					AutoEnroll bool `xml:"autoEnroll"`
				} `xml:"permission"`
				Extensions struct {
					Extension []struct {
						OID    string   `xml:"oid"`
						Value  []string `xml:"value"`
					} `xml:"extension"`
				} `xml:"extensions"`
			} `xml:"attributes"`
		} `xml:"policy"`
	} `xml:"policies"`
}

// GetPolicies fetches and assembles a Policy from the XCEP endpoint at
// uri (spec §4.6, §4.8's "https -> §4.6 GetPolicies" dispatch).
func GetPolicies(ctx context.Context, t *soaptransport.Transport, uri, policyID string, historical bool) (model.Policy, error) {
	lastUpdate := time.Now().UTC()
	if historical {
		lastUpdate = lastUpdate.AddDate(0, -historicalAnchor, 0)
	}

	req := getPoliciesRequest{NSXcep: "http://schemas.microsoft.com/windows/pki/2009/01/enrollmentpolicy"}
	req.Client.LastUpdate = lastUpdate.Format(time.RFC3339)
	req.Client.PreferredLanguage = "en-US"

	payload, err := xml.Marshal(req)
	if err != nil {
		return model.Policy{}, trace.Wrap(err, "xcep: marshal GetPolicies request")
	}

	respBody, err := t.Call(ctx, uri, xcepAction, payload)
	if err != nil {
		return model.Policy{}, trace.Wrap(err)
	}
	return decodeGetPoliciesResponse(respBody)
}

// decodeGetPoliciesResponse assembles a model.Policy from a GetPolicies
// response body: CA certificates/URIs are joined to templates through
// cAReference ids, and template attributes populate the permission and
// extension fields (spec §4.6).
func decodeGetPoliciesResponse(respBody []byte) (model.Policy, error) {
	inner, err := soapBodyContent(respBody)
	if err != nil {
		return model.Policy{}, err
	}
	var resp getPoliciesResponse
	if err := xml.Unmarshal(inner, &resp); err != nil {
		return model.Policy{}, trace.Wrap(err, "xcep: decode GetPolicies response")
	}

	caByRef := map[string]model.NamedCertificate{}
	caURIsByRef := map[string][]model.HttpsEndpoint{}
	for _, ca := range resp.CAs.CA {
		der, err := base64.StdEncoding.DecodeString(ca.Certificate)
		if err != nil {
			continue
		}
		caByRef[ca.CertificateReference] = model.NamedCertificate{DER: der}
		var uris []model.HttpsEndpoint
		for _, u := range ca.URIs.URI {
			uris = append(uris, model.HttpsEndpoint{
				URI:                  u.URI,
				ClientAuthentication: model.ClientAuthentication(u.ClientAuthentication),
				RenewalOnly:          u.RenewalOnly,
				Priority:             u.Priority,
			})
		}
		caURIsByRef[ca.CertificateReference] = uris
	}

	var policy model.Policy
	policy.ID = resp.Response.PolicyID

	for _, p := range resp.Policies.Policy {
		template := model.CertificateTemplate{
			CN:         p.Attributes.CommonName,
			Enroll:     p.Attributes.Permission.Enroll,
			AutoEnroll: p.Attributes.Permission.AutoEnroll,
		}
		for _, ext := range p.Attributes.Extensions.Extension {
			values := make([][]byte, 0, len(ext.Value))
			for _, v := range ext.Value {
				decoded, err := base64.StdEncoding.DecodeString(v)
				if err != nil {
					continue
				}
				values = append(values, decoded)
			}
			template.Extensions = append(template.Extensions, model.TemplateExtension{OID: ext.OID, Values: values})
		}
		policy.Templates = append(policy.Templates, template)

		for _, ref := range p.CAs.CAReference {
			cert, ok := caByRef[ref]
			if !ok {
				continue
			}
			svc := model.EnrollmentService{
				Certificate:    cert,
				TemplateNames:  []string{template.CN},
				HTTPSEndpoints: caURIsByRef[ref],
			}
			policy.EnrollmentServices = append(policy.EnrollmentServices, svc)
		}
	}

	// XCEP does not distinguish root from intermediate CAs in cAs[*]; every
	// referenced CA certificate is treated as chain material here, same as
	// ComputeIntermediates does for the LDAP enumeration path.
	policy.IntermediateCertificates = model.ComputeIntermediates(policy.EnrollmentServices, policy.RootCertificates)
	return policy, nil
}
