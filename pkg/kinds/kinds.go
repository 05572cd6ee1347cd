// Package kinds describes the resource kinds the controller operates on.
// A Kind bundles the REST coordinates of a resource with the field rules the
// sync logic needs: which fields carry payload, which are immutable, and
// which secret types to skip.
package kinds

import (
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kube-reflector/reflector/pkg/constants"
)

// Kind is a static descriptor of a watched resource type.
type Kind struct {
	// Name is the lowercase singular kind name used in logs and metrics.
	Name string
	// Resource locates the kind on the API server.
	Resource schema.GroupVersionResource
	// APIVersion and Object name the kind for object construction.
	APIVersion string
	Object     string
	// PayloadFields are the top-level fields copied from source to mirror.
	PayloadFields []string
	// ImmutableFields are top-level fields copied at creation but never
	// patched afterwards.
	ImmutableFields []string
	// SkipTypePrefix, when non-empty, drops objects whose "type" field
	// starts with the prefix before they reach any handler.
	SkipTypePrefix string
}

var (
	// Secret describes core/v1 Secrets. The type field is set at creation
	// and immutable afterwards. Helm release secrets are never observed.
	Secret = Kind{
		Name:            "secret",
		Resource:        schema.GroupVersionResource{Version: "v1", Resource: "secrets"},
		APIVersion:      "v1",
		Object:          "Secret",
		PayloadFields:   []string{"data", "binaryData"},
		ImmutableFields: []string{"type"},
		SkipTypePrefix:  constants.HelmSecretTypePrefix,
	}

	// ConfigMap describes core/v1 ConfigMaps. Payload spans data and
	// binaryData.
	ConfigMap = Kind{
		Name:          "configmap",
		Resource:      schema.GroupVersionResource{Version: "v1", Resource: "configmaps"},
		APIVersion:    "v1",
		Object:        "ConfigMap",
		PayloadFields: []string{"data", "binaryData"},
	}

	// Namespace describes core/v1 Namespaces, watched only for lifecycle
	// events.
	Namespace = Kind{
		Name:       "namespace",
		Resource:   schema.GroupVersionResource{Version: "v1", Resource: "namespaces"},
		APIVersion: "v1",
		Object:     "Namespace",
	}
)

// Mirrored lists the kinds whose objects are reflected across namespaces.
func Mirrored() []Kind {
	return []Kind{Secret, ConfigMap}
}

// Skip reports whether the object is excluded from observation entirely,
// such as Helm release secrets.
func (k Kind) Skip(obj *unstructured.Unstructured) bool {
	if k.SkipTypePrefix == "" {
		return false
	}
	objType, _, _ := unstructured.NestedString(obj.Object, "type")
	return strings.HasPrefix(objType, k.SkipTypePrefix)
}
