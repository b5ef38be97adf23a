// Command certmonger-adcs is the certmonger external-helper shim for ADCS
// enrollment (spec §6): it reads CERTMONGER_OPERATION from the environment,
// dispatches to internal/helper's operations, and maps the result onto
// certmonger's exit-code/stdout contract. Everything the contract itself
// specifies (the environment-variable protocol, the exit-code table) is
// treated as an external interface (spec §1); this file is the thin
// adapter between that contract and the enrollment orchestrator.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gravitational/libadcs/internal/helper"
	"github.com/gravitational/libadcs/internal/kerberos"
)

func main() {
	os.Exit(run())
}

// run builds the command, executes it, and returns the process exit code;
// kept separate from main so os.Exit is the only thing that can end the
// process, matching the teacher's tool/ binaries' own main()/run() split.
func run() int {
	var (
		realm      string
		policyID   string
		template   string
		endpoints  []string
		username   string
		password   string
		keytab     string
		ccache     string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:           "certmonger-adcs",
		Short:         "certmonger external-helper for ADCS enrollment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&realm, "realm", "", "AD forest DNS realm")
	cmd.Flags().StringVar(&policyID, "policy-id", "", "policy id to adopt from the configured endpoints")
	cmd.Flags().StringVar(&template, "template", "", "template name (used for POLL, which carries no CA profile)")
	cmd.Flags().StringArrayVar(&endpoints, "endpoint", nil, "policy endpoint, \"uri[,cost[,clientAuthentication]]\" (repeatable)")
	cmd.Flags().StringVar(&username, "username", "", "Kerberos principal name")
	cmd.Flags().StringVar(&password, "password", "", "Kerberos password")
	cmd.Flags().StringVar(&keytab, "keytab", "", "Kerberos keytab path")
	cmd.Flags().StringVar(&ccache, "ccache", "", "Kerberos credentials cache path")
	cmd.Flags().BoolVarP(&debug, "debug", "v", false, "verbose logging to stderr")

	exitCode := -1
	cmd.RunE = func(*cobra.Command, []string) error {
		setupLogging(debug)

		cfg, err := buildConfig(realm, policyID, template, endpoints, username, password, keytab, ccache)
		if err != nil {
			exitCode = helper.ExitCode(err)
			fmt.Print(err.Error())
			return nil
		}

		op := os.Getenv("CERTMONGER_OPERATION")
		result, code, _ := dispatch(context.Background(), cfg, op)
		exitCode = code
		fmt.Print(result.Stdout)
		return nil
	}

	if err := cmd.Execute(); err != nil {
		slog.Default().Error("certmonger-adcs: command error", "error", err)
		exitCode = -1
	}
	return exitCode
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func buildConfig(realm, policyID, template string, rawEndpoints []string, username, password, keytab, ccache string) (helper.Config, error) {
	cfg := helper.Config{Realm: realm, PolicyID: policyID, Template: template}
	for _, raw := range rawEndpoints {
		ep, err := helper.ParseEndpoint(raw)
		if err != nil {
			return helper.Config{}, err
		}
		cfg.Endpoints = append(cfg.Endpoints, ep)
	}
	cfg.Credentials = kerberos.Credentials{
		Realm:      realm,
		Username:   username,
		Password:   password,
		KeytabPath: keytab,
		CCachePath: ccache,
	}
	return cfg, nil
}
