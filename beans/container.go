package beans

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"
)

var (
	ErrInvalidState       = errors.New("bean container is not in the required state")
	ErrActivationNotFound = errors.New("activation not found")
	ErrNoBeans            = errors.New("component declares no beans")
)

// Registrar is what an Extension contributes to. *dig.Container satisfies it.
type Registrar interface {
	Provide(constructor any, opts ...dig.ProvideOption) error
}

// Extension contributes providers to a bean container before any bean is
// deployed.
type Extension interface {
	Name() string
	Provide(r Registrar) error
}

// ExtensionFunc adapts a function to Extension.
type ExtensionFunc struct {
	ExtensionName string
	Fn            func(r Registrar) error
}

func (e ExtensionFunc) Name() string { return e.ExtensionName }

func (e ExtensionFunc) Provide(r Registrar) error { return e.Fn(r) }

// Deployment is everything a bean container needs to boot.
type Deployment struct {
	ID string
	// Unit names the deployment unit the container belongs to.
	Unit   string
	Loader Loader
	// BeanClasses are the container-scope beans, constructed eagerly
	// during ValidateBeans in this order.
	BeanClasses []string
	Extensions  []Extension
	Logger      *zap.Logger
}

// Container is the bean-container collaborator contract.
type Container interface {
	StartExtensions() error
	StartContainer() error
	StartInitialization() error
	DeployBeans() error
	ValidateBeans() error
	EndInitialization() error
	Shutdown() error
	Manager() Manager
}

// Factory creates a bean container for a deployment.
type Factory func(d Deployment) (Container, error)

// CreateRequest asks the Manager to construct the beans of one component
// instance activation.
type CreateRequest struct {
	Component string
	Classes   []*Class
	Injection *Injection
}

// Activation is the set of beans created for one component activation.
type Activation struct {
	ID string
	// Beans maps bean class names to instances, in Classes order.
	Beans map[string]any
	// Primary is the instance of the first class of the request.
	Primary any
}

// Manager creates and destroys component-scope bean instances.
type Manager interface {
	// Bean returns a container-scope bean by class name.
	Bean(className string) (any, bool)
	Create(ctx context.Context, req CreateRequest) (*Activation, error)
	Destroy(activationID string) error
}

// Bootstrap drives c through its initialization sequence, stopping at the
// first failing step.
func Bootstrap(c Container) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"start extensions", c.StartExtensions},
		{"start container", c.StartContainer},
		{"start initialization", c.StartInitialization},
		{"deploy beans", c.DeployBeans},
		{"validate beans", c.ValidateBeans},
		{"end initialization", c.EndInitialization},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to %s: %w", step.name, err)
		}
	}
	return nil
}
