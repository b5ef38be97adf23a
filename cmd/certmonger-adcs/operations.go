package main

import (
	"context"
	"os"

	"github.com/gravitational/libadcs/internal/helper"
)

// dispatch implements spec §6's operation table: it reads whatever
// additional CERTMONGER_* environment variables the named operation needs,
// calls the matching internal/helper function, and returns the exit code
// that table specifies. An unrecognized operation exits 6 with no output,
// per the table's "(anything else)" row.
func dispatch(ctx context.Context, cfg helper.Config, op string) (helper.Result, int, error) {
	switch op {
	case "SUBMIT":
		csr := []byte(os.Getenv("CERTMONGER_CSR"))
		if profile := os.Getenv("CERTMONGER_CA_PROFILE"); profile != "" {
			cfg.Template = profile
		}
		result, err := helper.Submit(ctx, cfg, csr)
		return finish(result, err)

	case "POLL":
		result, err := helper.Poll(ctx, cfg, os.Getenv("CERTMONGER_CA_COOKIE"))
		return finish(result, err)

	case "IDENTIFY":
		return helper.Identify(), 0, nil

	case "FETCH-ROOTS":
		result, err := helper.FetchRoots(ctx, cfg)
		if err != nil {
			return helper.Result{Stdout: err.Error()}, helper.ExitCode(err), nil
		}
		return result, 0, nil

	case "GET-NEW-REQUEST-REQUIREMENTS":
		return helper.GetNewRequestRequirements(), 0, nil

	case "GET-RENEW-REQUEST-REQUIREMENTS":
		return helper.GetRenewRequestRequirements(), 0, nil

	case "GET-SUPPORTED-TEMPLATES":
		result, err := helper.GetSupportedTemplates(ctx, cfg)
		if err != nil {
			return helper.Result{Stdout: err.Error()}, helper.ExitCode(err), nil
		}
		return result, 0, nil

	default:
		return helper.Result{}, 6, nil
	}
}

// finish applies SUBMIT/POLL's disposition-derived exit code (0/2/5) on
// success, or the generic connection-failure/underconfigured/other mapping
// on error (spec §6, §7's propagation policy). Either way the message
// (certificate, cookie, or error text) is written to stdout, never stderr:
// only structured logging goes to stderr (spec §6 "Logging goes to
// stderr").
func finish(result helper.Result, err error) (helper.Result, int, error) {
	if err != nil {
		return helper.Result{Stdout: err.Error()}, helper.ExitCode(err), nil
	}
	if result.DispositionExit != nil {
		return result, *result.DispositionExit, nil
	}
	return result, 0, nil
}
