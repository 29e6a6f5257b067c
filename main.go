package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/apparentlymart/go-userdirs/userdirs"
	"github.com/hashicorp/hcl/v2"
	"github.com/spf13/cobra"

	"github.com/apparentlymart/ocipfs-registry/internal/config"
	"github.com/apparentlymart/ocipfs-registry/internal/ipfs"
	"github.com/apparentlymart/ocipfs-registry/internal/logging"
	"github.com/apparentlymart/ocipfs-registry/internal/ocidist"
	"github.com/apparentlymart/ocipfs-registry/internal/resolver"
	"github.com/apparentlymart/ocipfs-registry/internal/server"
)

const userAgent = "ocipfs-registry"

func main() {
	err := rootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "ocipfs-registry",
		Short:        "A container registry serving single-layer images whose content lives on IPFS.",
		SilenceUsage: true,
	}
	root.SetUsageTemplate(usageTemplate)
	cmdLineConfigFile := root.PersistentFlags().String("config", "", "Configuration file to use")
	logLevel := root.PersistentFlags().String("log-level", "info", "Minimum level of log messages: debug, info, warn or error")
	logFormat := root.PersistentFlags().String("log-format", "text", "Format of log messages: text or json")
	var globalConfig *config.Config
	var logger *slog.Logger

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewLogger(cmd.ErrOrStderr(), *logLevel, *logFormat)
		if err != nil {
			return err
		}

		var configFile string
		if *cmdLineConfigFile != "" {
			configFile = *cmdLineConfigFile
		} else {
			candidates := dirs.FindConfigFiles("config.hcl")
			if len(candidates) == 0 {
				// Without a configuration file we just use the public
				// gateway and the default listen address.
				globalConfig = config.Default()
				return nil
			}
			if len(candidates) != 1 {
				fmt.Fprintf(
					cmd.ErrOrStderr(),
					"Error: Multiple configuration files found.\n\nUse the --config option to specify which configuration file to use.\nFound the following configuration files:\n",
				)
				for _, filename := range candidates {
					fmt.Fprintf(cmd.ErrOrStderr(), " - %s\n", filename)
				}
				os.Exit(1)
			}
			configFile = candidates[0]
		}

		gotConfig, diags := config.LoadConfigFile(configFile)
		for _, diag := range diags {
			severity := "Problem"
			switch diag.Severity {
			case hcl.DiagError:
				severity = "Error"
			case hcl.DiagWarning:
				severity = "Warning"
			}
			prefix := severity
			if diag.Subject != nil {
				prefix = fmt.Sprintf("%s at %s", severity, *diag.Subject)
			}
			detail := ""
			if diag.Detail != "" {
				detail = "\n\n" + diag.Detail + "\n"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s%s\n", prefix, diag.Summary, detail)
		}
		if diags.HasErrors() {
			fmt.Fprintf(cmd.ErrOrStderr(), "\nConfiguration is invalid.\n")
			os.Exit(1)
		}
		globalConfig = gotConfig
		return nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "server",
			Short: "Run the registry server described in the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer cancel()
				ctx = logging.ContextWithLogger(ctx, logger)

				client := newGatewayClient(globalConfig)
				if err := client.CheckGateway(ctx); err != nil {
					logger.Warn("gateway is not reachable", "url", globalConfig.Gateway.URL.String(), "err", err)
				}
				return server.Run(ctx, globalConfig, resolver.New(client))
			},
		},
		&cobra.Command{
			Use:   "manifest <content-id> [tag]",
			Short: "Print the image manifest the server would return for a content identifier",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := logging.ContextWithLogger(cmd.Context(), logger)
				tag := "latest"
				if len(args) > 1 {
					tag = args[1]
				}
				res := resolver.New(newGatewayClient(globalConfig))
				manifest, err := res.Manifest(ctx, ocidist.ContentID(args[0]), tag)
				if err != nil {
					return err
				}
				_, err = ocidist.WriteCanonical(cmd.OutOrStdout(), manifest)
				fmt.Fprintln(cmd.OutOrStdout())
				return err
			},
		},
		&cobra.Command{
			Use:   "blob <content-id> <digest>",
			Short: "Print the configuration blob, or the layer URL, for a digest in a content identifier's manifest",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := logging.ContextWithLogger(cmd.Context(), logger)
				res := resolver.New(newGatewayClient(globalConfig))
				result, err := res.Blob(ctx, ocidist.ContentID(args[0]), args[1])
				if err != nil {
					return err
				}
				switch result := result.(type) {
				case resolver.BlobRedirect:
					fmt.Fprintln(cmd.OutOrStdout(), result.URL.String())
				case resolver.BlobConfig:
					_, err = ocidist.WriteCanonical(cmd.OutOrStdout(), result.Config)
					fmt.Fprintln(cmd.OutOrStdout())
				}
				return err
			},
		},
	)

	return root
}

func newGatewayClient(cfg *config.Config) *ipfs.Client {
	client := ipfs.NewClient(cfg.Gateway.URL)
	client.SetRedirectURL(cfg.Gateway.RedirectURL)
	client.SetTimeout(cfg.Gateway.Timeout)
	client.AddPrepareRequest(func(req *http.Request) error {
		req.Header.Set("User-Agent", userAgent)
		return nil
	})
	return client
}

var dirs = userdirs.ForApp(
	"OCI IPFS Registry",
	"apparentlymart",
	"io.ocipfs.registry",
)

const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available subcommands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional subcommands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Options:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global options:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
