package main

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/homeagent/pkg/logger"
	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var (
		showVersion bool
		configPath  string
	)

	root := &cobra.Command{
		Use:   "homeagent",
		Short: "Conversational home assistant with trust-gated device control",
		Long: strings.TrimSpace(`homeagent is a conversational assistant that controls simulated home devices.

Trust grows with every interaction; device commands are authorized against
per-device thresholds before they are dispatched.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config.json")

	root.AddCommand(newChatCommand(&configPath))
	root.AddCommand(newStatusCommand(&configPath))
	root.AddCommand(newDevicesCommand(&configPath))
	root.AddCommand(newVersionCommand())
	return root
}

func newChatCommand(configPath *string) *cobra.Command {
	var (
		message string
		session string
		user    string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long:  "Run an interactive session, or send a single message with --message.",
		Example: strings.Join([]string{
			"  homeagent chat",
			"  homeagent chat --user alice",
			"  homeagent chat --message \"turn on the lights\" --session 3f2a...",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if debug {
				logger.SetLevel(logger.DEBUG)
				fmt.Fprintln(cmd.ErrOrStderr(), "🔍 Debug mode enabled")
			}

			rt, err := startRuntime(cfg)
			if err != nil {
				return err
			}
			defer shutdown(rt)

			if strings.TrimSpace(message) != "" {
				return runOneShot(cmd.Context(), cmd.OutOrStdout(), rt, message, user, session)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s interactive mode (Ctrl+C to exit)\n\n", appName)
			return interactiveMode(cmd.Context(), cmd.OutOrStdout(), rt, user, session)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&session, "session", "s", "", "Session id to continue")
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser, "User id the turns belong to")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand(configPath *string) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration, store, and per-user trust",
		Example: strings.Join([]string{
			"  homeagent status",
			"  homeagent status --user alice",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd(cmd.Context(), cmd.OutOrStdout(), *configPath, user)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "Show trust and interaction counts for this user")
	return cmd
}

func newDevicesCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Short:   "List the configured devices and the commands they accept",
		Example: "  homeagent devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return devicesCmd(cmd.Context(), cmd.OutOrStdout(), *configPath)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  homeagent version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
