// Package commands implements the openesb command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/katiya-cw/openesb-standalone/internal/config"
	"github.com/katiya-cw/openesb-standalone/internal/connector"
	"github.com/katiya-cw/openesb-standalone/internal/node"
	"github.com/katiya-cw/openesb-standalone/internal/version"
)

// Exit codes.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitAlreadyLoaded = 2
)

const (
	flagHome     = "home"
	flagConfig   = "config"
	flagURL      = "url"
	flagUser     = "user"
	flagPassword = "password"
	flagInstance = "instance"
)

// Execute runs the command line and returns the process exit code.
func Execute(args []string) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, node.ErrAlreadyLoaded):
		cmd.PrintErrln("The instance is already running:", err)
		return ExitAlreadyLoaded
	default:
		cmd.PrintErrln("Error:", err)
		return ExitFailure
	}
}

// NewRootCommand builds the command tree. Flags can also be set through
// OPENESB_* environment variables (OPENESB_HOME, OPENESB_URL...).
func NewRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "openesb",
		Short:         "OpenESB standalone instance",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	root.AddCommand(
		newStartCommand(v),
		newStatusCommand(v),
		newStopCommand(v),
		newVersionCommand(),
	)
	return root
}

func addInstallFlags(fs *pflag.FlagSet) {
	fs.String(flagHome, "", "install root (default: current directory)")
	fs.String(flagConfig, "", "configuration file (default: <home>/config/openesb.yaml)")
}

func addConnectionFlags(fs *pflag.FlagSet) {
	fs.String(flagURL, connector.ServiceURL(config.DefaultConnectorPort), "connector service URL")
	fs.String(flagUser, "admin", "connector username")
	fs.String(flagPassword, "admin", "connector password")
	fs.String(flagInstance, config.DefaultInstanceName, "instance name")
}

// bind makes v read the flags of cmd. It runs in PreRunE so each command
// binds only its own flags.
func bind(v *viper.Viper) func(cmd *cobra.Command, _ []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return v.BindPFlags(cmd.Flags())
	}
}

func installRoot(v *viper.Viper) (string, error) {
	if home := v.GetString(flagHome); home != "" {
		return home, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cannot determine install root: %w", err)
	}
	return wd, nil
}
