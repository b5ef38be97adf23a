package enroll

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/kerberos"
	"github.com/gravitational/libadcs/internal/ldapdisco"
	"github.com/gravitational/libadcs/internal/model"
)

// scriptedDeps resolves against a fixed uri -> policy-id table instead of a
// live directory, recording the order endpoints were tried in.
func scriptedDeps(policyByURI map[string]string, tried *[]string) dependencies {
	return dependencies{
		discover: func(string, kerberos.Credentials) (*ldapdisco.Manager, error) {
			return &ldapdisco.Manager{}, nil
		},
		fetch: func(_ context.Context, _ *ldapdisco.Manager, _ kerberos.Credentials, ep model.PolicyEndpoint, _ string) (model.Policy, error) {
			*tried = append(*tried, ep.URI)
			id, ok := policyByURI[ep.URI]
			if !ok {
				return model.Policy{}, adcserr.HTTPStatus(503, "unreachable")
			}
			return model.Policy{ID: id}, nil
		},
	}
}

func testOptions(endpoints []model.PolicyEndpoint, policyID string) Options {
	return Options{
		Realm:     "corp.example.com",
		PolicyID:  policyID,
		Endpoints: endpoints,
	}
}

func TestNewAdoptsMatchingPolicyOverCheaperMismatch(t *testing.T) {
	// The endpoint returning policy "A" sorts lower by cost, but the
	// caller asked for "B": the second endpoint must be adopted.
	endpoints := []model.PolicyEndpoint{
		{URI: "https://one.example.com/Policy.svc", ClientAuthentication: model.ClientAuthTransportKerberos, Cost: 1},
		{URI: "https://two.example.com/Policy.svc", ClientAuthentication: model.ClientAuthTransportKerberos, Cost: 10},
	}
	var tried []string
	deps := scriptedDeps(map[string]string{
		"https://one.example.com/Policy.svc": "A",
		"https://two.example.com/Policy.svc": "B",
	}, &tried)

	p, err := newWithDeps(context.Background(), testOptions(endpoints, "B"), deps)
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, "B", p.policy.ID)
	require.Equal(t, []string{
		"https://one.example.com/Policy.svc",
		"https://two.example.com/Policy.svc",
	}, tried)
}

func TestNewTriesEndpointsInCostThenAuthOrder(t *testing.T) {
	endpoints := []model.PolicyEndpoint{
		{URI: "https://anon-10.example.com", ClientAuthentication: model.ClientAuthAnonymous, Cost: 10},
		{URI: "https://kerb-10.example.com", ClientAuthentication: model.ClientAuthTransportKerberos, Cost: 10},
		{URI: "https://anon-5.example.com", ClientAuthentication: model.ClientAuthAnonymous, Cost: 5},
	}
	var tried []string
	deps := scriptedDeps(map[string]string{"https://anon-10.example.com": "P"}, &tried)

	p, err := newWithDeps(context.Background(), testOptions(endpoints, "P"), deps)
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, []string{
		"https://anon-5.example.com",
		"https://kerb-10.example.com",
		"https://anon-10.example.com",
	}, tried)
}

func TestNewSkipsFailingEndpoints(t *testing.T) {
	endpoints := []model.PolicyEndpoint{
		{URI: "https://dead.example.com", Cost: 1},
		{URI: "https://live.example.com", Cost: 2},
	}
	var tried []string
	deps := scriptedDeps(map[string]string{"https://live.example.com": "P"}, &tried)

	p, err := newWithDeps(context.Background(), testOptions(endpoints, "P"), deps)
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, "P", p.policy.ID)
}

func TestNewFailsWhenNoEndpointReturnsRequestedID(t *testing.T) {
	endpoints := []model.PolicyEndpoint{
		{URI: "https://one.example.com", Cost: 1},
	}
	var tried []string
	deps := scriptedDeps(map[string]string{"https://one.example.com": "A"}, &tried)

	_, err := newWithDeps(context.Background(), testOptions(endpoints, "B"), deps)
	require.Error(t, err)
	require.ErrorIs(t, err, adcserr.Semantic)
}

func TestOptionsCheckAndSetDefaults(t *testing.T) {
	opts := testOptions([]model.PolicyEndpoint{{URI: "https://x"}}, "P")
	require.NoError(t, opts.CheckAndSetDefaults())
	require.Equal(t, model.ClientAuthTransportKerberos, opts.ClientAuthentication)

	missing := testOptions(nil, "P")
	require.Error(t, missing.CheckAndSetDefaults())
}
