package ccr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/configadmin"
	"github.com/junioryono/ccr/registry"
)

// DefaultStopTimeout bounds how long Stop waits for a container's
// start/stop lock before tearing it down anyway.
const DefaultStopTimeout = 60 * time.Second

// Option configures a Runtime.
type Option interface {
	apply(*options)
}

type options struct {
	logger      *zap.Logger
	registry    *registry.Registry
	admin       configadmin.Admin
	factory     beans.Factory
	stopTimeout time.Duration
	registerer  prometheus.Registerer
	extensions  []beans.Extension
}

type optionFunc func(*options)

func (f optionFunc) apply(opts *options) {
	f(opts)
}

// WithLogger sets the runtime logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(opts *options) {
		opts.logger = logger
	})
}

// WithRegistry shares reg with the runtime instead of creating one.
func WithRegistry(reg *registry.Registry) Option {
	return optionFunc(func(opts *options) {
		opts.registry = reg
	})
}

// WithConfigAdmin sets the configuration admin. Defaults to an empty
// in-memory admin.
func WithConfigAdmin(admin configadmin.Admin) Option {
	return optionFunc(func(opts *options) {
		opts.admin = admin
	})
}

// WithBeanContainerFactory replaces the dig bean container.
func WithBeanContainerFactory(f beans.Factory) Option {
	return optionFunc(func(opts *options) {
		opts.factory = f
	})
}

// WithStopTimeout bounds the wait for a container's start/stop lock.
func WithStopTimeout(d time.Duration) Option {
	return optionFunc(func(opts *options) {
		opts.stopTimeout = d
	})
}

// WithMetricsRegisterer registers the runtime's collectors with r.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return optionFunc(func(opts *options) {
		opts.registerer = r
	})
}

// WithExtensions adds bean-container extensions given to every container.
func WithExtensions(exts ...beans.Extension) Option {
	return optionFunc(func(opts *options) {
		opts.extensions = append(opts.extensions, exts...)
	})
}
