// Command adcs-submit is a standalone debugging CLI over the same
// enrollment orchestrator cmd/certmonger-adcs wraps for certmonger,
// re-exposing its operations as ordinary cobra subcommands instead of the
// CERTMONGER_* environment-variable contract (SPEC_FULL.md supplement 1,
// grounded on original_source/adcs-submit's operations.rs). It is
// explicitly not part of the certmonger contract (spec §6); it exists for
// interactive use and scripting.
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

type rootFlags struct {
	realm      string
	policyID   string
	endpoints  []string
	username   string
	password   string
	keytab     string
	ccache     string
	debug      bool
}

func (f *rootFlags) config() (helper.Config, error) {
	cfg := helper.Config{Realm: f.realm, PolicyID: f.policyID}
	for _, raw := range f.endpoints {
		ep, err := helper.ParseEndpoint(raw)
		if err != nil {
			return helper.Config{}, err
		}
		cfg.Endpoints = append(cfg.Endpoints, ep)
	}
	cfg.Credentials = kerberos.Credentials{
		Realm:      f.realm,
		Username:   f.username,
		Password:   f.password,
		KeytabPath: f.keytab,
		CCachePath: f.ccache,
	}
	return cfg, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var flags rootFlags
	exitCode := 0

	root := &cobra.Command{
		Use:           "adcs-submit",
		Short:         "interactive ADCS enrollment client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if flags.debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&flags.realm, "realm", "", "AD forest DNS realm")
	root.PersistentFlags().StringVar(&flags.policyID, "policy-id", "", "policy id to adopt from the configured endpoints")
	root.PersistentFlags().StringArrayVar(&flags.endpoints, "endpoint", nil, "policy endpoint, \"uri[,cost[,clientAuthentication]]\" (repeatable)")
	root.PersistentFlags().StringVar(&flags.username, "username", "", "Kerberos principal name")
	root.PersistentFlags().StringVar(&flags.password, "password", "", "Kerberos password")
	root.PersistentFlags().StringVar(&flags.keytab, "keytab", "", "Kerberos keytab path")
	root.PersistentFlags().StringVar(&flags.ccache, "ccache", "", "Kerberos credentials cache path")
	root.PersistentFlags().BoolVarP(&flags.debug, "debug", "v", false, "verbose logging to stderr")

	root.AddCommand(
		submitCmd(&flags, &exitCode),
		pollCmd(&flags, &exitCode),
		identifyCmd(),
		fetchRootsCmd(&flags, &exitCode),
		newRequirementsCmd(),
		renewRequirementsCmd(),
		supportedTemplatesCmd(&flags, &exitCode),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

func submitCmd(flags *rootFlags, exitCode *int) *cobra.Command {
	var csrPath, template string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "submit a PKCS#10 CSR for the named template",
		RunE: func(cmd *cobra.Command, args []string) error {
			csrPEM, err := os.ReadFile(csrPath)
			if err != nil {
				return err
			}
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			cfg.Template = template
			result, err := helper.Submit(context.Background(), cfg, csrPEM)
			return report(cmd, result, err, exitCode)
		},
	}
	cmd.Flags().StringVar(&csrPath, "csr", "", "path to the PEM-encoded CSR")
	cmd.Flags().StringVar(&template, "template", "", "certificate template name")
	cmd.MarkFlagRequired("csr")
	cmd.MarkFlagRequired("template")
	return cmd
}

func pollCmd(flags *rootFlags, exitCode *int) *cobra.Command {
	var cookie, template string
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "poll the disposition of a pending request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			cfg.Template = template
			result, err := helper.Poll(context.Background(), cfg, cookie)
			return report(cmd, result, err, exitCode)
		},
	}
	cmd.Flags().StringVar(&cookie, "cookie", "", "request id returned by a pending submit")
	cmd.Flags().StringVar(&template, "template", "", "certificate template name")
	cmd.MarkFlagRequired("cookie")
	cmd.MarkFlagRequired("template")
	return cmd
}

func identifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identify",
		Short: "print this helper's identity string",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), helper.Identify().Stdout)
			return nil
		},
	}
}

func fetchRootsCmd(flags *rootFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-roots",
		Short: "print the policy's root and chain certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			result, err := helper.FetchRoots(context.Background(), cfg)
			return report(cmd, result, err, exitCode)
		},
	}
}

func newRequirementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-new-request-requirements",
		Short: "print the environment variables a new-request submit needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), helper.GetNewRequestRequirements().Stdout)
			return nil
		},
	}
}

func renewRequirementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-renew-request-requirements",
		Short: "print the environment variables a renewal submit needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), helper.GetRenewRequestRequirements().Stdout)
			return nil
		},
	}
}

func supportedTemplatesCmd(flags *rootFlags, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "get-supported-templates",
		Short: "print the templates the caller may enroll for",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			result, err := helper.GetSupportedTemplates(context.Background(), cfg)
			return report(cmd, result, err, exitCode)
		},
	}
}

// report prints result.Stdout (or err's message) to the command's stdout
// and records the certmonger-equivalent exit code into *exitCode, without
// itself calling os.Exit so cobra's own teardown still runs.
func report(cmd *cobra.Command, result helper.Result, err error, exitCode *int) error {
	if err != nil {
		*exitCode = helper.ExitCode(err)
		fmt.Fprintln(cmd.OutOrStdout(), err.Error())
		return nil
	}
	if result.DispositionExit != nil {
		*exitCode = *result.DispositionExit
	}
	fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
	return nil
}
