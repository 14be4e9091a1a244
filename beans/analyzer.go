package beans

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/dig"
)

var digInType = reflect.TypeOf(dig.In{})

// analyzer inspects bean constructors and caches the result per function.
type analyzer struct {
	mu    sync.RWMutex
	cache map[uintptr]*constructorInfo
}

// constructorInfo is what a bean constructor produces and consumes.
type constructorInfo struct {
	Output       reflect.Type
	HasError     bool
	Dependencies []dependency
}

// dependency is one constructor parameter or dig.In field.
type dependency struct {
	Type     reflect.Type
	Name     string
	Group    string
	Optional bool
}

type dependencyKey struct {
	t    reflect.Type
	name string
}

func (d dependency) key() dependencyKey { return dependencyKey{t: d.Type, name: d.Name} }

var constructors = newAnalyzer()

func newAnalyzer() *analyzer {
	return &analyzer{cache: make(map[uintptr]*constructorInfo)}
}

// Analyze validates constructor and describes it.
func (a *analyzer) Analyze(constructor any) (*constructorInfo, error) {
	if constructor == nil {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	val := reflect.ValueOf(constructor)
	typ := val.Type()
	if typ.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %s", typ)
	}
	if val.IsNil() {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	key := val.Pointer()
	a.mu.RLock()
	cached, ok := a.cache[key]
	a.mu.RUnlock()
	if ok {
		return cached, nil
	}

	info := &constructorInfo{}
	switch typ.NumOut() {
	case 1:
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("second return value of %s must be error", typ)
		}
		info.HasError = true
	default:
		return nil, fmt.Errorf("constructor %s must return a bean and an optional error", typ)
	}
	if typ.Out(0) == errorType {
		return nil, fmt.Errorf("constructor %s must return a bean", typ)
	}
	info.Output = typ.Out(0)

	for i := 0; i < typ.NumIn(); i++ {
		in := typ.In(i)
		if in.Kind() == reflect.Struct && dig.IsIn(in) {
			info.Dependencies = append(info.Dependencies, paramFields(in)...)
			continue
		}
		info.Dependencies = append(info.Dependencies, dependency{Type: in})
	}

	a.mu.Lock()
	a.cache[key] = info
	a.mu.Unlock()
	return info, nil
}

// Len returns the number of cached constructors.
func (a *analyzer) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

func paramFields(in reflect.Type) []dependency {
	var deps []dependency
	for j := 0; j < in.NumField(); j++ {
		f := in.Field(j)
		if f.Anonymous || !f.IsExported() {
			continue
		}
		deps = append(deps, dependency{
			Type:     f.Type,
			Name:     f.Tag.Get("name"),
			Group:    f.Tag.Get("group"),
			Optional: f.Tag.Get("optional") == "true",
		})
	}
	return deps
}

// resolveDependency extracts the value of d from container.
func resolveDependency(container *dig.Container, d dependency) (reflect.Value, error) {
	if d.Name == "" {
		return resolve(container, d.Type)
	}

	param := reflect.StructOf([]reflect.StructField{
		{Name: "In", Type: digInType, Anonymous: true},
		{Name: "Value", Type: d.Type, Tag: reflect.StructTag(`name:"` + d.Name + `"`)},
	})

	var out reflect.Value
	fn := reflect.MakeFunc(reflect.FuncOf([]reflect.Type{param}, nil, false), func(args []reflect.Value) []reflect.Value {
		out = args[0].Field(1)
		return nil
	})
	if err := container.Invoke(fn.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}
