// Package gateway is the controller's single seam to the API server. All
// reads, watches and writes go through the Gateway interface so the engine
// can be exercised against fakes.
package gateway

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/kube-reflector/reflector/pkg/kinds"
)

// Gateway exposes the cluster operations the engine needs. Implementations
// do not retry: error recovery is the caller's decision.
type Gateway interface {
	// List returns all objects of the kind across namespaces, plus the
	// list resourceVersion to start a watch from.
	List(ctx context.Context, kind kinds.Kind) ([]unstructured.Unstructured, string, error)

	// Watch opens a watch on the kind from the given resourceVersion.
	Watch(ctx context.Context, kind kinds.Kind, resourceVersion string) (watch.Interface, error)

	// Get fetches a single object by namespace and name.
	Get(ctx context.Context, kind kinds.Kind, namespace, name string) (*unstructured.Unstructured, error)

	// Patch applies an RFC 6902 JSON patch to the named object.
	Patch(ctx context.Context, kind kinds.Kind, namespace, name string, patch []byte) (*unstructured.Unstructured, error)

	// Create creates the object in its namespace.
	Create(ctx context.Context, kind kinds.Kind, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)

	// Delete removes the named object. Deleting an object that is already
	// gone is not an error.
	Delete(ctx context.Context, kind kinds.Kind, namespace, name string) error
}
