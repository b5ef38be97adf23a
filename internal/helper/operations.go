package helper

import (
	"context"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/enroll"
	"github.com/gravitational/libadcs/internal/model"
)

// Result is what one operation produces: the text to write to stdout (spec
// §6's Stdout column) and, for SUBMIT/POLL only, the disposition-derived
// exit code (0/2/5) that overrides the generic success/failure mapping
// ExitCode applies to every other operation.
type Result struct {
	Stdout          string
	DispositionExit *int
}

func issuedResult(resp model.EnrollmentResponse) Result {
	code := 0
	return Result{Stdout: pemEncode(resp.Entity), DispositionExit: &code}
}

func pendingResult(resp model.EnrollmentResponse) Result {
	code := 5
	return Result{Stdout: fmt.Sprintf("60\n%d", resp.RequestID), DispositionExit: &code}
}

func rejectedResult(resp model.EnrollmentResponse) Result {
	code := 2
	return Result{Stdout: resp.Message, DispositionExit: &code}
}

func dispositionResult(resp model.EnrollmentResponse) Result {
	switch resp.Status {
	case model.StatusIssued:
		return issuedResult(resp)
	case model.StatusPending:
		return pendingResult(resp)
	default:
		return rejectedResult(resp)
	}
}

// Submit implements the certmonger SUBMIT operation (spec §6): builds a
// CMC request around csrPEM for the named template and submits it.
func Submit(ctx context.Context, cfg Config, csrPEM []byte) (Result, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil {
		return Result{}, trace.BadParameter("helper: CERTMONGER_CSR is not a PEM block")
	}

	policy, err := newPolicy(ctx, cfg)
	if err != nil {
		return Result{}, trace.Wrap(err)
	}
	defer policy.Close()

	resp, err := policy.Submit(ctx, block.Bytes, cfg.Template)
	if err != nil {
		return Result{}, trace.Wrap(err)
	}
	return dispositionResult(resp), nil
}

// Poll implements the certmonger POLL operation (spec §6): asks the CA for
// the current disposition of the request identified by cookie.
func Poll(ctx context.Context, cfg Config, cookie string) (Result, error) {
	requestID, err := strconv.ParseUint(strings.TrimSpace(cookie), 10, 32)
	if err != nil {
		return Result{}, trace.BadParameter("helper: CERTMONGER_CA_COOKIE %q is not a request id", cookie)
	}

	policy, err := newPolicy(ctx, cfg)
	if err != nil {
		return Result{}, trace.Wrap(err)
	}
	defer policy.Close()

	resp, err := policy.Poll(ctx, uint32(requestID), cfg.Template)
	if err != nil {
		return Result{}, trace.Wrap(err)
	}
	return dispositionResult(resp), nil
}

// Identify implements the certmonger IDENTIFY operation: a static string
// naming this helper, never touching the network.
func Identify() Result {
	return Result{Stdout: "libadcs ADCS enrollment helper"}
}

// FetchRoots implements the certmonger FETCH-ROOTS operation (spec §6):
// the primary root, then each supplementary root, then each chain
// certificate, each PEM-encoded and newline-separated.
func FetchRoots(ctx context.Context, cfg Config) (Result, error) {
	policy, err := newPolicy(ctx, cfg)
	if err != nil {
		return Result{}, trace.Wrap(err)
	}
	defer policy.Close()

	roots, intermediates := policy.RootsAndIntermediates()
	if len(roots) == 0 {
		return Result{}, trace.NotFound("helper: policy carries no root certificates")
	}

	var sb strings.Builder
	sb.WriteString(pemEncode(roots[0].DER))
	sb.WriteByte('\n')
	for _, r := range roots[1:] {
		sb.WriteString(pemEncode(r.DER))
		sb.WriteByte('\n')
	}
	for _, c := range intermediates {
		sb.WriteString(pemEncode(c.DER))
		sb.WriteByte('\n')
	}
	return Result{Stdout: sb.String()}, nil
}

// GetNewRequestRequirements and GetRenewRequestRequirements implement the
// certmonger GET-*-REQUEST-REQUIREMENTS operations: the newline-separated
// names of environment variables SUBMIT/POLL additionally require (spec
// §6's table), mirroring certmonger's own generic-submit helper contract.
func GetNewRequestRequirements() Result {
	return Result{Stdout: strings.Join([]string{"CERTMONGER_CSR", "CERTMONGER_CA_PROFILE"}, "\n")}
}

func GetRenewRequestRequirements() Result {
	return Result{Stdout: strings.Join([]string{"CERTMONGER_CSR", "CERTMONGER_CA_PROFILE"}, "\n")}
}

// GetSupportedTemplates implements the certmonger GET-SUPPORTED-TEMPLATES
// operation: the newline-separated CNs of every template the caller may
// enroll for.
func GetSupportedTemplates(ctx context.Context, cfg Config) (Result, error) {
	policy, err := newPolicy(ctx, cfg)
	if err != nil {
		return Result{}, trace.Wrap(err)
	}
	defer policy.Close()

	names := policy.EnrollableTemplateNames()
	return Result{Stdout: strings.Join(names, "\n")}, nil
}

func newPolicy(ctx context.Context, cfg Config) (*enroll.Policy, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return enroll.New(ctx, enroll.Options{
		Realm:                cfg.Realm,
		PolicyID:             cfg.PolicyID,
		Endpoints:            cfg.Endpoints,
		Credentials:          cfg.Credentials,
		ClientAuthentication: cfg.ClientAuthentication,
		Renewing:             cfg.Renewing,
	})
}

func pemEncode(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}
