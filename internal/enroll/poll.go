package enroll

import (
	"context"
	"net"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/model"
	"github.com/gravitational/libadcs/internal/rpctransport"
)

// Poll asks the CA for the current disposition of a previously Pending
// submission (spec §6's POLL operation). The library is stateless between
// invocations (spec §6 "Persisted state: None"), so the caller supplies
// the same requestID the earlier Submit call returned in its Pending
// response, on a Policy freshly resolved via New (as helper.Poll does), and
// Poll re-derives which enrollment services could have produced that
// pending request from the template itself (the RPC transport is the only one of this module's two
// transports where MS-ICPR defines an actual poll semantics — see
// DESIGN.md's Open Question on the poll path).
//
// Every enrollment service offering an RPC endpoint for templateName is
// tried in turn, identically to Submit's fallback ordering, stopping at
// the first one that returns a decodable disposition.
func (p *Policy) Poll(ctx context.Context, requestID uint32, templateName string) (model.EnrollmentResponse, error) {
	services := p.policy.ServicesForTemplate(templateName)
	if len(services) == 0 {
		return model.EnrollmentResponse{}, adcserr.NoEnrollmentService(templateName)
	}

	var lastErr error
	for _, svc := range services {
		if svc.RPCEndpoint == "" {
			continue
		}
		resp, err := p.pollService(ctx, svc, requestID)
		if err == nil {
			return resp, nil
		}
		p.logger.WarnContext(ctx, "poll attempt failed, trying next service", "service", svc.Certificate.Nickname, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = trace.NotFound("no rpc-capable enrollment service found for template %q", templateName)
	}
	return model.EnrollmentResponse{}, trace.Wrap(lastErr)
}

func (p *Policy) pollService(ctx context.Context, svc model.EnrollmentService, requestID uint32) (model.EnrollmentResponse, error) {
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
	return rpctransport.CertServerRequest(client, cmcFlag|cmcFullResponse, svc.Certificate.Nickname, "", requestID, nil)
}
