package enroll

import (
	"context"
	"net"
	"sort"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/cmc"
	"github.com/gravitational/libadcs/internal/model"
	"github.com/gravitational/libadcs/internal/rpctransport"
	"github.com/gravitational/libadcs/internal/soaptransport"
	"github.com/gravitational/libadcs/internal/xcep"
)

// rpcPort is the ncacn_ip_tcp port this module dials directly rather than
// resolving through the RPC endpoint mapper (spec §4.7 simplification).
const rpcPort = "135"

// Submit builds a CMC request for csrDER against templateName using the
// adopted policy's template extensions, then tries each enrollment service
// that lists the template in input order, and within a service each
// transport in the ranked order from spec §4.8 step 3.
func (p *Policy) Submit(ctx context.Context, csrDER []byte, templateName string) (model.EnrollmentResponse, error) {
	template, ok := findTemplate(p.policy.Templates, templateName)
	if !ok {
		return model.EnrollmentResponse{}, adcserr.TemplateNotFound(templateName)
	}
	if !template.Enroll {
		return model.EnrollmentResponse{}, adcserr.TemplateNotGrantable(templateName)
	}

	services := p.policy.ServicesForTemplate(templateName)
	if len(services) == 0 {
		return model.EnrollmentResponse{}, adcserr.NoEnrollmentService(templateName)
	}

	signed, err := p.buildCMC(csrDER, template)
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err)
	}

	clientAuth := p.opts.ClientAuthentication
	if clientAuth == 0 {
		clientAuth = model.ClientAuthTransportKerberos
	}

	var lastErr error
	for _, svc := range services {
		resp, err := p.submitToService(ctx, svc, clientAuth, signed)
		if err == nil {
			return resp, nil
		}
		p.logger.WarnContext(ctx, "enrollment service attempt failed, trying next", "service", svc.Certificate.Nickname, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = trace.NotFound("no transport available for any enrollment service")
	}
	return model.EnrollmentResponse{}, trace.Wrap(lastErr)
}

func (p *Policy) buildCMC(csrDER []byte, template model.CertificateTemplate) ([]byte, error) {
	var attrs []cmc.Attribute
	for _, ext := range template.Extensions {
		attrs = append(attrs, cmc.Attribute{OID: ext.OID, Values: ext.Values})
	}
	data, err := cmc.Build([]cmc.CSRWithAttributes{{
		CSR:        cmc.CertificationRequest(csrDER),
		Attributes: attrs,
	}})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return cmc.BuildSignedCMC(data), nil
}

// submitToService tries this service's matching HTTPS endpoints (ranked by
// priority); only when none match does it use the RPC endpoint, per spec
// §4.8 step 3. If every matching HTTPS endpoint fails, the last error is
// returned and RPC is not tried.
func (p *Policy) submitToService(ctx context.Context, svc model.EnrollmentService, clientAuth model.ClientAuthentication, signed []byte) (model.EnrollmentResponse, error) {
	candidates := selectHTTPSEndpoints(svc.HTTPSEndpoints, clientAuth, p.opts.Renewing)
	var lastErr error
	for _, ep := range candidates {
		resp, err := p.submitHTTPS(ctx, ep, signed)
		if err == nil {
			return resp, nil
		}
		p.logger.WarnContext(ctx, "https enrollment endpoint failed, trying next", "uri", ep.URI, "error", err)
		lastErr = err
	}
	if lastErr != nil {
		return model.EnrollmentResponse{}, lastErr
	}

	if svc.RPCEndpoint != "" {
		return p.submitRPC(ctx, svc, signed)
	}

	return model.EnrollmentResponse{}, trace.NotFound("enrollment service %q offers no usable transport", svc.Certificate.Nickname)
}

func (p *Policy) submitHTTPS(ctx context.Context, ep model.HttpsEndpoint, signed []byte) (model.EnrollmentResponse, error) {
	t := p.transportFor(ep.ClientAuthentication)
	respBytes, err := xcep.Enroll(ctx, t, ep.URI, signed)
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err)
	}
	return decodeCMCResponse(respBytes)
}

func (p *Policy) submitRPC(ctx context.Context, svc model.EnrollmentService, signed []byte) (model.EnrollmentResponse, error) {
	addr := net.JoinHostPort(svc.RPCEndpoint, rpcPort)
	spn := "host/" + svc.RPCEndpoint

	client, err := rpctransport.Dial(ctx, addr, spn, p.creds)
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err)
	}
	defer client.Close()

	const (
		cmcFlag         = 0x00000400
		cmcFullResponse = 0x00000400
	)
	return rpctransport.CertServerRequest(client, cmcFlag|cmcFullResponse, svc.Certificate.Nickname, "", 0, signed)
}

// decodeCMCResponse unwraps the signed CMS envelope a SOAP-transported CMC
// response arrives in. A response carrying no certificates is treated as a
// rejection; this module does not decode CMC's statusInfoV2/pendingInfo
// control attributes (documented simplification — WSTEP enrollment in
// practice returns either an issued certificate or a SOAP fault, and the
// pending path is exercised through the RPC/polling flow instead).
func decodeCMCResponse(raw []byte) (model.EnrollmentResponse, error) {
	parsed, err := cmc.ParseSignedCMC(raw)
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err)
	}
	if len(parsed.Certificates) == 0 {
		return model.Rejected("CA response carried no certificates"), nil
	}
	entity := parsed.Certificates[0].Raw
	chain := make([][]byte, 0, len(parsed.Certificates)-1)
	for _, c := range parsed.Certificates[1:] {
		chain = append(chain, c.Raw)
	}
	return model.Issued(entity, chain), nil
}

func findTemplate(templates []model.CertificateTemplate, name string) (model.CertificateTemplate, bool) {
	for _, t := range templates {
		if t.CN == name {
			return t, true
		}
	}
	return model.CertificateTemplate{}, false
}

// selectHTTPSEndpoints filters to endpoints matching clientAuth and the
// renewal rule, then sorts by priority ascending (spec §4.8 step 3).
func selectHTTPSEndpoints(endpoints []model.HttpsEndpoint, clientAuth model.ClientAuthentication, renewing bool) []model.HttpsEndpoint {
	var out []model.HttpsEndpoint
	for _, ep := range endpoints {
		if ep.ClientAuthentication != clientAuth {
			continue
		}
		if ep.RenewalOnly && !renewing {
			continue
		}
		out = append(out, ep)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
