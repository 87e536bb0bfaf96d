package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/katiya-cw/openesb-standalone/internal/app"
)

func newStartCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the instance and run until stopped",
		Args:    cobra.NoArgs,
		PreRunE: bind(v),
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := installRoot(v)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), app.Options{
				Home:       home,
				ConfigFile: v.GetString(flagConfig),
			})
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	addInstallFlags(cmd.Flags())
	return cmd
}
