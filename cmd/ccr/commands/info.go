package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newInfoCommand(g *globals) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "info <bundle-id>",
		Short: "Show the components of one container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid bundle id %q: %w", args[0], err)
			}

			s, err := g.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.close()

			c, err := s.rt.ContainerDTO(id)
			if err != nil {
				return err
			}

			switch output {
			case "yaml":
				return writeYAML(cmd.OutOrStdout(), newContainerView(c))
			case "", "text":
				return writeInfo(cmd.OutOrStdout(), c)
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, yaml)")
	return cmd
}
