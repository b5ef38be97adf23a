package helper

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/model"
)

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"configuration is underconfigured", adcserr.UnknownScheme("gopher"), 4},
		{"discovery is connection failure", adcserr.NoSRVRecords("corp.example.com", nil), 3},
		{"protocol is connection failure", adcserr.HTTPStatus(502, "bad gateway"), 3},
		{"semantic is generic failure", adcserr.TemplateNotFound("WebServer"), -1},
		{"untagged is generic failure", errors.New("boom"), -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("https://ca.example.com/Policy.svc")
	require.NoError(t, err)
	require.Equal(t, model.PolicyEndpoint{
		URI:                  "https://ca.example.com/Policy.svc",
		ClientAuthentication: model.ClientAuthTransportKerberos,
	}, ep)

	ep, err = ParseEndpoint("ldap://corp.example.com,5,1")
	require.NoError(t, err)
	require.Equal(t, model.PolicyEndpoint{
		URI:                  "ldap://corp.example.com",
		Cost:                 5,
		ClientAuthentication: model.ClientAuthAnonymous,
	}, ep)

	_, err = ParseEndpoint("")
	require.Error(t, err)
	_, err = ParseEndpoint("https://ca,abc")
	require.Error(t, err)
	_, err = ParseEndpoint("https://ca,1,x")
	require.Error(t, err)
}

func TestConfigCheckAndSetDefaults(t *testing.T) {
	cfg := Config{Realm: "corp.example.com", PolicyID: "P", Endpoints: []model.PolicyEndpoint{{URI: "https://x"}}}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, model.ClientAuthTransportKerberos, cfg.ClientAuthentication)

	for _, broken := range []Config{
		{PolicyID: "P", Endpoints: []model.PolicyEndpoint{{URI: "https://x"}}},
		{Realm: "r", Endpoints: []model.PolicyEndpoint{{URI: "https://x"}}},
		{Realm: "r", PolicyID: "P"},
	} {
		require.Error(t, broken.CheckAndSetDefaults())
	}
}

func TestDispositionResultIssuedWritesPEM(t *testing.T) {
	result := dispositionResult(model.Issued([]byte("fake-der"), nil))
	require.NotNil(t, result.DispositionExit)
	require.Equal(t, 0, *result.DispositionExit)
	require.True(t, strings.HasPrefix(result.Stdout, "-----BEGIN CERTIFICATE-----"))
}

func TestDispositionResultPendingWritesCookie(t *testing.T) {
	result := dispositionResult(model.Pending(42))
	require.NotNil(t, result.DispositionExit)
	require.Equal(t, 5, *result.DispositionExit)
	require.Equal(t, "60\n42", result.Stdout)
}

func TestDispositionResultRejectedWritesMessage(t *testing.T) {
	result := dispositionResult(model.Rejected("rejected (2147500037): denied"))
	require.NotNil(t, result.DispositionExit)
	require.Equal(t, 2, *result.DispositionExit)
	require.Contains(t, result.Stdout, "denied")
}

func TestIdentifyIsStatic(t *testing.T) {
	require.Equal(t, "libadcs ADCS enrollment helper", Identify().Stdout)
	require.Nil(t, Identify().DispositionExit)
}
