package soaptransport

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type scriptedStep struct {
	status int
	token  string
	body   string
}

// scriptedRoundTripper plays back a fixed status/token/body sequence, one
// entry per POST, and counts how many requests actually went out.
type scriptedRoundTripper struct {
	steps []scriptedStep
	posts int
	auths []string
}

func (s *scriptedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	s.auths = append(s.auths, req.Header.Get("Authorization"))
	step := s.steps[s.posts]
	s.posts++
	resp := &http.Response{
		StatusCode: step.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(step.body)),
		Request:    req,
	}
	if step.token != "" {
		resp.Header.Set("WWW-Authenticate", "Negotiate "+base64.StdEncoding.EncodeToString([]byte(step.token)))
	}
	return resp, nil
}

type fakeStepper struct {
	calls    int
	received [][]byte
	final    bool // when set, the next step reports the context complete
	closed   bool
}

func (f *fakeStepper) InitSecContext(target string, token []byte) ([]byte, bool, error) {
	f.calls++
	f.received = append(f.received, token)
	if f.final && token != nil {
		return nil, false, nil
	}
	return []byte("tok"), true, nil
}

func (f *fakeStepper) Close() error {
	f.closed = true
	return nil
}

func newTestTransport(rt http.RoundTripper, stepper *fakeStepper) *Transport {
	tr := &Transport{
		http:       resty.New(),
		newStepper: func() (secStepper, error) { return stepper, nil },
	}
	tr.http.SetTransport(rt)
	return tr
}

func TestNegotiateLoopPostsExactlyThreeTimes(t *testing.T) {
	rt := &scriptedRoundTripper{steps: []scriptedStep{
		{status: 401, token: "challenge-1"},
		{status: 401, token: "challenge-2"},
		{status: 200, body: "<s:Envelope><s:Body><ok/></s:Body></s:Envelope>"},
	}}
	stepper := &fakeStepper{}
	tr := newTestTransport(rt, stepper)

	body, err := tr.Call(context.Background(), "https://ca.example.com/service.svc/CES", "action", []byte("<q/>"))
	require.NoError(t, err)
	require.Contains(t, string(body), "<ok/>")
	require.Equal(t, 3, rt.posts)
	// Initial token plus one step per 401.
	require.Equal(t, 3, stepper.calls)
	require.Equal(t, []byte("challenge-2"), stepper.received[2])
	require.True(t, stepper.closed)
	for _, auth := range rt.auths {
		require.True(t, strings.HasPrefix(auth, "Negotiate "))
	}
}

func TestNegotiateLoopContextCompleteWithoutFinalToken(t *testing.T) {
	rt := &scriptedRoundTripper{steps: []scriptedStep{
		{status: 401, token: "challenge", body: "<s:Envelope><s:Body><late/></s:Body></s:Envelope>"},
	}}
	stepper := &fakeStepper{final: true}
	tr := newTestTransport(rt, stepper)

	body, err := tr.Call(context.Background(), "https://ca.example.com/svc", "action", []byte("<q/>"))
	require.NoError(t, err)
	require.Contains(t, string(body), "<late/>")
	require.Equal(t, 1, rt.posts)
}

func TestNegotiateLoopFailsOnUnexpectedStatus(t *testing.T) {
	rt := &scriptedRoundTripper{steps: []scriptedStep{
		{status: 500, body: "boom"},
	}}
	tr := newTestTransport(rt, &fakeStepper{})

	_, err := tr.Call(context.Background(), "https://ca.example.com/svc", "action", []byte("<q/>"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
	require.Equal(t, 1, rt.posts)
}
