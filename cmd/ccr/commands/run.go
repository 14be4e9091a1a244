package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCommand(g *globals) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run containers and print them whenever they change",
		Long: `Run starts every descriptor, watches the configuration directory and
prints the container list each time the runtime change count moves.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := g.open(ctx, true)
			if err != nil {
				return err
			}
			defer s.close()

			return s.watch(ctx, cmd, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "How often to check for changes")
	return cmd
}

func (s *session) watch(ctx context.Context, cmd *cobra.Command, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		if count := s.rt.ChangeCount(); count != last {
			last = count
			if err := writeList(cmd.OutOrStdout(), s.rt.ContainerDTOs()); err != nil {
				return err
			}
			fprintf(cmd.OutOrStdout(), "\n")
		}

		select {
		case <-ctx.Done():
			s.logger.Info("shutting down", zap.Int64("changeCount", last))
			return nil
		case <-ticker.C:
		}
	}
}
