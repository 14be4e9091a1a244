// Package beans defines the bean-container collaborator of the component
// runtime and provides its default implementation on top of go.uber.org/dig.
//
// # Bean classes
//
// A Class names a constructor and declares the injection points the
// runtime must satisfy from the service registry or the configuration
// registry:
//
//	greeter := &beans.Class{
//	    Name: "com.example.Greeter",
//	    Constructor: func(in *beans.Injection, logger *zap.Logger) *Greeter {
//	        return &Greeter{store: in.Reference("store"), logger: logger}
//	    },
//	    InjectionPoints: []beans.InjectionPoint{
//	        {Name: "store", Kind: beans.KindReference, Service: "com.example.Store"},
//	    },
//	}
//
// Constructor parameters other than *Injection are resolved from the
// container-scope beans and extension-provided values.
//
// # Lifecycle
//
// The runtime drives a Container through StartExtensions, StartContainer,
// StartInitialization, DeployBeans, ValidateBeans and EndInitialization,
// then creates and destroys component bean instances through its Manager
// as component instances activate and deactivate. Shutdown disposes every
// remaining bean.
package beans
