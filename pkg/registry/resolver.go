package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/aretw0/toolgate/pkg/domain"
)

// Resolver binds a handler reference from the artifact to a callable.
type Resolver interface {
	Resolve(ref string) (domain.Handler, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ref string) (domain.Handler, error)

func (f ResolverFunc) Resolve(ref string) (domain.Handler, error) {
	return f(ref)
}

// Catalog maps handler references to functions.
// Values may be domain.Handler or any func with the same signature.
type Catalog map[string]any

var handlerType = reflect.TypeOf(domain.Handler(nil))

// Resolve looks up ref and checks the function signature.
func (c Catalog) Resolve(ref string) (domain.Handler, error) {
	v, ok := c[ref]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: no entry point %q", domain.ErrHandlerUnresolved, ref)
	}
	if h, ok := v.(domain.Handler); ok {
		return h, nil
	}
	if h, ok := v.(func(context.Context, *domain.ExecContext) (*domain.ToolResponse, error)); ok {
		return h, nil
	}

	fv := reflect.ValueOf(v)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %q is a %s, not a function", domain.ErrHandlerUnresolved, ref, ft.Kind())
	}
	if ft.NumIn() != handlerType.NumIn() || ft.NumOut() != handlerType.NumOut() {
		return nil, fmt.Errorf("%w: %q has arity %d->%d, want %d->%d", domain.ErrHandlerUnresolved, ref,
			ft.NumIn(), ft.NumOut(), handlerType.NumIn(), handlerType.NumOut())
	}
	if !ft.ConvertibleTo(handlerType) {
		return nil, fmt.Errorf("%w: %q has signature %s, want %s", domain.ErrHandlerUnresolved, ref, ft, handlerType)
	}
	return fv.Convert(handlerType).Interface().(domain.Handler), nil
}

// Refs lists the registered references in sorted order.
func (c Catalog) Refs() []string {
	refs := make([]string, 0, len(c))
	for k := range c {
		refs = append(refs, k)
	}
	sort.Strings(refs)
	return refs
}

// Chain tries each resolver in order and returns the first handler found.
func Chain(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(ref string) (domain.Handler, error) {
		var errs []error
		for _, r := range resolvers {
			h, err := r.Resolve(ref)
			if err == nil {
				return h, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return nil, fmt.Errorf("%w: no resolver for %q", domain.ErrHandlerUnresolved, ref)
		}
		return nil, errors.Join(errs...)
	})
}
