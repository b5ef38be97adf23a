package enroll

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/model"
)

func adoptedPolicy(p model.Policy) *Policy {
	return &Policy{
		policy: p,
		opts:   Options{ClientAuthentication: model.ClientAuthTransportKerberos},
		logger: slog.Default().With("component", "enroll"),
	}
}

func TestSubmitFailsWhenTemplateMissing(t *testing.T) {
	p := adoptedPolicy(model.Policy{ID: "P"})
	_, err := p.Submit(context.Background(), []byte("csr"), "WebServer")
	require.Error(t, err)
	require.ErrorIs(t, err, adcserr.Semantic)
}

func TestSubmitFailsWhenTemplateNotGrantable(t *testing.T) {
	p := adoptedPolicy(model.Policy{
		ID:        "P",
		Templates: []model.CertificateTemplate{{CN: "WebServer", Enroll: false}},
	})
	_, err := p.Submit(context.Background(), []byte("csr"), "WebServer")
	require.Error(t, err)
	require.ErrorIs(t, err, adcserr.Semantic)
}

func TestSubmitFailsWhenNoServiceListsTemplate(t *testing.T) {
	p := adoptedPolicy(model.Policy{
		ID:        "P",
		Templates: []model.CertificateTemplate{{CN: "WebServer", Enroll: true}},
		EnrollmentServices: []model.EnrollmentService{
			{TemplateNames: []string{"Machine"}},
		},
	})
	_, err := p.Submit(context.Background(), []byte("csr"), "WebServer")
	require.Error(t, err)
	require.ErrorIs(t, err, adcserr.Semantic)
}

func TestPollFailsWhenNoServiceListsTemplate(t *testing.T) {
	p := adoptedPolicy(model.Policy{ID: "P"})
	_, err := p.Poll(context.Background(), 42, "WebServer")
	require.Error(t, err)
	require.ErrorIs(t, err, adcserr.Semantic)
}

func TestSelectHTTPSEndpointsFiltersAndRanks(t *testing.T) {
	endpoints := []model.HttpsEndpoint{
		{URI: "https://kerb-2", ClientAuthentication: model.ClientAuthTransportKerberos, Priority: 2},
		{URI: "https://anon", ClientAuthentication: model.ClientAuthAnonymous, Priority: 0},
		{URI: "https://kerb-renew", ClientAuthentication: model.ClientAuthTransportKerberos, Priority: 0, RenewalOnly: true},
		{URI: "https://kerb-1", ClientAuthentication: model.ClientAuthTransportKerberos, Priority: 1},
	}

	selected := selectHTTPSEndpoints(endpoints, model.ClientAuthTransportKerberos, false)
	require.Len(t, selected, 2)
	require.Equal(t, "https://kerb-1", selected[0].URI)
	require.Equal(t, "https://kerb-2", selected[1].URI)

	// Renewing admits the renewal-only endpoint, which then wins on
	// priority.
	renewing := selectHTTPSEndpoints(endpoints, model.ClientAuthTransportKerberos, true)
	require.Len(t, renewing, 3)
	require.Equal(t, "https://kerb-renew", renewing[0].URI)
}
