package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/junioryono/ccr"
	"github.com/junioryono/ccr/configadmin"
	"github.com/junioryono/ccr/descriptor"
	"github.com/junioryono/ccr/internal/logging"
)

const Version = "0.1.0"

// globals holds the flags shared by every subcommand.
type globals struct {
	logLevel    string
	logFormat   string
	descriptors []string
	configDir   string
	timeout     time.Duration
}

// Execute runs the ccr command line.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "ccr",
		Short: "ccr - component runtime inspector",
		Long: `ccr starts deployment units described by YAML descriptors against a
built-in demo bean catalog and shows the state of their components.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", logging.FormatConsole, "Log format (console, json)")
	root.PersistentFlags().StringSliceVarP(&g.descriptors, "descriptor", "d", nil, "Bundle descriptor file (repeatable)")
	root.PersistentFlags().StringVar(&g.configDir, "config-dir", "", "Directory of <pid>.yaml configuration files")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "Time to wait for containers to settle")

	root.AddCommand(newListCommand(g))
	root.AddCommand(newInfoCommand(g))
	root.AddCommand(newRunCommand(g))
	return root
}

// session is a runtime with every descriptor started.
type session struct {
	rt      *ccr.Runtime
	admin   *configadmin.Memory
	watcher *configadmin.Watcher
	logger  *zap.Logger
}

func (g *globals) open(ctx context.Context, watch bool) (*session, error) {
	if len(g.descriptors) == 0 {
		return nil, fmt.Errorf("at least one --descriptor is required")
	}

	logger, err := logging.New(g.logLevel, g.logFormat)
	if err != nil {
		return nil, err
	}

	s := &session{admin: configadmin.NewMemory(logger), logger: logger}

	if g.configDir != "" {
		s.watcher, err = configadmin.NewWatcher(g.configDir, s.admin, logger)
		if err != nil {
			return nil, err
		}
		if watch {
			err = s.watcher.Start(ctx)
		} else {
			err = s.watcher.Sync()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load configurations: %w", err)
		}
	}

	s.rt = ccr.New(ccr.WithLogger(logger), ccr.WithConfigAdmin(s.admin))

	for i, path := range g.descriptors {
		d, err := descriptor.LoadFile(path)
		if err != nil {
			s.close()
			return nil, err
		}
		if d.ID == 0 {
			d.ID = int64(i + 1)
		}
		if err := s.rt.Start(ctx, ccr.Bundle{Descriptor: *d, Loader: DemoCatalog()}); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to start %s: %w", path, err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := s.rt.WaitIdle(waitCtx); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.rt != nil {
		if err := s.rt.Close(); err != nil {
			s.logger.Warn("failed to close runtime", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
