package container

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Injection is one entry of an injection plan: the key (optionally
// "key#path") to resolve for a constructor parameter.
type Injection struct {
	Key      string
	Optional bool
}

// Inject declares a required dependency.
func Inject(key string) Injection { return Injection{Key: key} }

// InjectOptional declares a dependency that resolves to the zero value
// when the key is unbound.
func InjectOptional(key string) Injection { return Injection{Key: key, Optional: true} }

// InjectConfig declares a dependency on the configuration of key.
func InjectConfig(key, path string) Injection {
	return Injection{Key: KeyWithPath(ConfigKey(key), path), Optional: true}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// constructorPlan holds a parsed constructor and its injection plan.
//
// Supported constructor signatures:
//   - func(A1, ..., An) T
//   - func(A1, ..., An) (T, error)
type constructorPlan struct {
	fn           reflect.Value
	fnType       reflect.Type
	args         []Injection
	returnsError bool
	name         string
}

func parseConstructor(ctor any, args []Injection) (*constructorPlan, error) {
	if ctor == nil {
		return nil, fmt.Errorf("constructor cannot be nil")
	}
	fn := reflect.ValueOf(ctor)
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %v", ft.Kind())
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("variadic constructors are not supported")
	}

	switch ft.NumOut() {
	case 1:
	case 2:
		if !ft.Out(1).Implements(errorType) {
			return nil, fmt.Errorf("constructor's second return value must be error, got %v", ft.Out(1))
		}
	default:
		return nil, fmt.Errorf("constructor must return (T) or (T, error), got %d return values", ft.NumOut())
	}

	if ft.NumIn() != len(args) {
		return nil, fmt.Errorf("constructor takes %d parameters but the injection plan has %d", ft.NumIn(), len(args))
	}

	return &constructorPlan{
		fn:           fn,
		fnType:       ft,
		args:         append([]Injection(nil), args...),
		returnsError: ft.NumOut() == 2,
		name:         funcName(ctor),
	}, nil
}

// invoke resolves every parameter in declaration order, then calls the
// constructor and injects tagged properties of the result.
func (p *constructorPlan) invoke(rc *ResolutionContext) (any, error) {
	params := make([]reflect.Value, len(p.args))
	for i, inj := range p.args {
		v, err := resolveInjection(rc, inj)
		if err != nil {
			return nil, err
		}
		pv, err := valueFor(v, p.fnType.In(i))
		if err != nil {
			return nil, fmt.Errorf("parameter %d (%s): %w", i, inj.Key, err)
		}
		params[i] = pv
	}

	results := p.fn.Call(params)
	if p.returnsError && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}

	instance := results[0].Interface()
	if err := injectProperties(rc, instance); err != nil {
		return nil, err
	}
	return instance, nil
}

func resolveInjection(rc *ResolutionContext, inj Injection) (any, error) {
	if inj.Optional {
		return rc.Resolve(inj.Key, Optional())
	}
	return rc.Resolve(inj.Key)
}

// valueFor adapts a resolved value to a parameter or field type.
func valueFor(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %v", v, t)
}

// ── Property injection ────────────────────────────────────────────────────────

// injectTag is parsed from `inject:"key[,optional]"`.
type injectTag struct {
	index    int
	name     string
	typ      reflect.Type
	key      string
	optional bool
}

// propertyCache memoises the tagged fields of struct types.
var propertyCache sync.Map // reflect.Type → []injectTag

func injectableFields(t reflect.Type) []injectTag {
	if cached, ok := propertyCache.Load(t); ok {
		return cached.([]injectTag)
	}
	var fields []injectTag
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("inject")
		if !ok || !f.IsExported() || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		it := injectTag{index: i, name: f.Name, typ: f.Type, key: strings.TrimSpace(parts[0])}
		for _, opt := range parts[1:] {
			if strings.TrimSpace(opt) == "optional" {
				it.optional = true
			}
		}
		if it.key == "" {
			continue
		}
		fields = append(fields, it)
	}
	propertyCache.Store(t, fields)
	return fields
}

// injectProperties sets struct fields tagged with `inject`.
//
//	type Greeter struct {
//	    Clock Clock `inject:"clock,optional"`
//	}
func injectProperties(rc *ResolutionContext, instance any) error {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil
	}
	elem := rv.Elem()
	for _, f := range injectableFields(elem.Type()) {
		v, err := resolveInjection(rc, Injection{Key: f.key, Optional: f.optional})
		if err != nil {
			return err
		}
		fv, err := valueFor(v, f.typ)
		if err != nil {
			return fmt.Errorf("property %s (%s): %w", f.name, f.key, err)
		}
		elem.Field(f.index).Set(fv)
	}
	return nil
}
