// Package middleware provides HTTP middleware shared by the control plane
// REST surface and the node-agent's NRPC surface.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/qarax/qarax/lib/logger"
)

// ResourceResolver is implemented by stores that support lookup by ID, name,
// or unambiguous ID prefix (spec's GetVM(idOrName) pattern, generalized to
// every control-plane entity the REST surface addresses by path parameter).
type ResourceResolver interface {
	// Resolve looks up a resource by ID, name, or ID prefix. Returns the
	// resolved ID, the resource, and any error. Implementations return
	// errs.ErrNotFound if nothing matches, or an ambiguous-prefix error if
	// more than one resource shares the prefix.
	Resolve(ctx context.Context, idOrName string) (id string, resource any, err error)
}

// resolvedResourceKey is the context key for storing the resolved resource.
type resolvedResourceKey struct{ resourceType string }

// ResolvedResource holds the resolved resource ID and value.
type ResolvedResource struct {
	ID       string
	Resource any
}

// Resolvers holds resolvers for each control-plane entity addressable by
// path parameter.
type Resolvers struct {
	VM           ResourceResolver
	Host         ResourceResolver
	StoragePool  ResourceResolver
	StorageObj   ResourceResolver
	BootSource   ResourceResolver
	Job          ResourceResolver
}

// ErrorResponder handles resolver errors by writing HTTP responses.
type ErrorResponder func(w http.ResponseWriter, err error, lookup string)

// ResolveResource creates middleware that resolves resource IDs before
// handlers run. It detects the resource type from the URL path and uses the
// matching resolver, storing the result in context and enriching the
// request-scoped logger with the resolved ID.
//
// Supported paths:
//   - /vms/{id}/*            -> VM resolver
//   - /hosts/{id}/*          -> Host resolver
//   - /storage-pools/{id}/*  -> StoragePool resolver
//   - /storage-objects/{id}/* -> StorageObj resolver
//   - /boot-sources/{id}/*   -> BootSource resolver
//   - /jobs/{id}/*           -> Job resolver
func ResolveResource(resolvers Resolvers, errResponder ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			path := r.URL.Path

			var resolver ResourceResolver
			var resourceType string

			switch {
			case strings.HasPrefix(path, "/vms/"):
				resolver, resourceType = resolvers.VM, "vm"
			case strings.HasPrefix(path, "/hosts/"):
				resolver, resourceType = resolvers.Host, "host"
			case strings.HasPrefix(path, "/storage-pools/"):
				resolver, resourceType = resolvers.StoragePool, "storage_pool"
			case strings.HasPrefix(path, "/storage-objects/"):
				resolver, resourceType = resolvers.StorageObj, "storage_object"
			case strings.HasPrefix(path, "/boot-sources/"):
				resolver, resourceType = resolvers.BootSource, "boot_source"
			case strings.HasPrefix(path, "/jobs/"):
				resolver, resourceType = resolvers.Job, "job"
			default:
				next.ServeHTTP(w, r)
				return
			}

			if resolver == nil {
				next.ServeHTTP(w, r)
				return
			}

			idOrName := chi.URLParam(r, "id")
			if idOrName == "" {
				next.ServeHTTP(w, r)
				return
			}

			resolvedID, resource, err := resolver.Resolve(ctx, idOrName)
			if err != nil {
				errResponder(w, err, idOrName)
				return
			}

			ctx = context.WithValue(ctx, resolvedResourceKey{resourceType}, ResolvedResource{
				ID:       resolvedID,
				Resource: resource,
			})

			log := logger.FromContext(ctx).With(resourceType+"_id", resolvedID)
			ctx = logger.AddToContext(ctx, log)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetResolvedVM retrieves the resolved VM from context.
func GetResolvedVM[T any](ctx context.Context) *T {
	return getResolved[T](ctx, "vm")
}

// GetResolvedHost retrieves the resolved host from context.
func GetResolvedHost[T any](ctx context.Context) *T {
	return getResolved[T](ctx, "host")
}

// GetResolvedID retrieves just the resolved ID for a resource type.
func GetResolvedID(ctx context.Context, resourceType string) string {
	if resolved, ok := ctx.Value(resolvedResourceKey{resourceType}).(ResolvedResource); ok {
		return resolved.ID
	}
	return ""
}

func getResolved[T any](ctx context.Context, resourceType string) *T {
	resolved, ok := ctx.Value(resolvedResourceKey{resourceType}).(ResolvedResource)
	if !ok {
		return nil
	}
	if typed, ok := resolved.Resource.(*T); ok {
		return typed
	}
	if typed, ok := resolved.Resource.(T); ok {
		return &typed
	}
	return nil
}

// WithResolvedVM returns a context with the given VM set as resolved. Used
// by tests to exercise handlers without the resolver middleware.
func WithResolvedVM(ctx context.Context, id string, vm any) context.Context {
	return context.WithValue(ctx, resolvedResourceKey{"vm"}, ResolvedResource{ID: id, Resource: vm})
}

// WithResolvedHost returns a context with the given host set as resolved.
func WithResolvedHost(ctx context.Context, id string, host any) context.Context {
	return context.WithValue(ctx, resolvedResourceKey{"host"}, ResolvedResource{ID: id, Resource: host})
}
