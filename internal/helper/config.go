// Package helper implements the shared plumbing behind both cmd binaries
// this repository ships (spec §6's certmonger shim, and the supplemental
// interactive cmd/adcs-submit CLI): translating flag/environment input
// into internal/enroll.Options, running one named operation, and mapping
// the result onto the certmonger exit-code/stdout contract.
package helper

import (
	"strconv"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/kerberos"
	"github.com/gravitational/libadcs/internal/model"
)

// Config is this repository's HelperConfig (SPEC_FULL.md's AMBIENT STACK):
// the union of everything either cmd binary needs to resolve a policy and
// act on it, assembled from flags by each binary's main package.
type Config struct {
	Realm    string
	PolicyID string
	Template string

	Endpoints   []model.PolicyEndpoint
	Credentials kerberos.Credentials

	ClientAuthentication model.ClientAuthentication
	Renewing             bool
}

// CheckAndSetDefaults validates the fields every operation needs and
// applies the same defaults internal/enroll.Options does, following the
// teacher's FooConfig.CheckAndSetDefaults convention.
func (c *Config) CheckAndSetDefaults() error {
	if c.Realm == "" {
		return trace.BadParameter("helper: --realm is required")
	}
	if c.PolicyID == "" {
		return trace.BadParameter("helper: --policy-id is required")
	}
	if len(c.Endpoints) == 0 {
		return trace.BadParameter("helper: at least one --endpoint is required")
	}
	if c.ClientAuthentication == 0 {
		c.ClientAuthentication = model.ClientAuthTransportKerberos
	}
	return nil
}

// ParseEndpoint parses one --endpoint flag value of the form
// "uri[,cost[,clientAuthentication]]" (cost and clientAuthentication
// default to 0 and TransportKerberos(2) respectively) into a
// model.PolicyEndpoint.
func ParseEndpoint(raw string) (model.PolicyEndpoint, error) {
	parts := strings.Split(raw, ",")
	ep := model.PolicyEndpoint{
		URI:                  parts[0],
		ClientAuthentication: model.ClientAuthTransportKerberos,
	}
	if ep.URI == "" {
		return model.PolicyEndpoint{}, trace.BadParameter("helper: empty --endpoint uri")
	}
	if len(parts) > 1 && parts[1] != "" {
		cost, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return model.PolicyEndpoint{}, trace.BadParameter("helper: --endpoint cost %q: %v", parts[1], err)
		}
		ep.Cost = cost
	}
	if len(parts) > 2 && parts[2] != "" {
		auth, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return model.PolicyEndpoint{}, trace.BadParameter("helper: --endpoint clientAuthentication %q: %v", parts[2], err)
		}
		ep.ClientAuthentication = model.ClientAuthentication(auth)
	}
	return ep, nil
}
