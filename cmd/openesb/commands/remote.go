package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/katiya-cw/openesb-standalone/internal/connector"
	"github.com/katiya-cw/openesb-standalone/internal/management"
	"github.com/katiya-cw/openesb-standalone/internal/node"
)

func dial(cmd *cobra.Command, v *viper.Viper) (*connector.Client, error) {
	return connector.Dial(cmd.Context(), v.GetString(flagURL), v.GetString(flagUser), v.GetString(flagPassword))
}

func instanceName(v *viper.Viper) management.ObjectName {
	return node.Identity{Name: v.GetString(flagInstance)}.ObjectName()
}

func newStatusCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show the management record of a running instance",
		Args:    cobra.NoArgs,
		PreRunE: bind(v),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := dial(cmd, v)
			if err != nil {
				return err
			}
			rec, err := client.Record(cmd.Context(), instanceName(v))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", rec.Name)
			keys := make([]string, 0, len(rec.Attributes))
			for k := range rec.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "  %-12s %s\n", k, rec.Attributes[k])
			}
			fmt.Fprintf(out, "  %-12s %s\n", "Owner", rec.Owner)
			return nil
		},
	}
	addConnectionFlags(cmd.Flags())
	return cmd
}

func newStopCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stop",
		Short:   "Ask a running instance to stop",
		Args:    cobra.NoArgs,
		PreRunE: bind(v),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := dial(cmd, v)
			if err != nil {
				return err
			}
			name := instanceName(v)
			if _, err := client.Invoke(cmd.Context(), name, node.OpStop); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stop requested for %s\n", name)
			return nil
		},
	}
	addConnectionFlags(cmd.Flags())
	return cmd
}
