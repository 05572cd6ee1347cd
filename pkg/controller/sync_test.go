package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kube-reflector/reflector/pkg/constants"
	"github.com/kube-reflector/reflector/pkg/kinds"
)

func sourceSecret() *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata": map[string]interface{}{
			"namespace":       "ns-src",
			"name":            "s",
			"resourceVersion": "100",
			"labels":          map[string]interface{}{"team": "red"},
			"annotations": map[string]interface{}{
				constants.AnnotationAllowed: "true",
			},
		},
		"type": "Opaque",
		"data": map[string]interface{}{"a": "MQ=="},
	}}
}

func TestBuildSyncPatch(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	ops := buildSyncPatch(kinds.Secret, sourceSecret(), now)

	require.Len(t, ops, 4)
	assert.Equal(t, "add", ops[0].Op)
	assert.Equal(t, "/data", ops[0].Path)
	assert.Equal(t, map[string]interface{}{"a": "MQ=="}, ops[0].Value)

	assert.Equal(t, "/binaryData", ops[1].Path)
	assert.Nil(t, ops[1].Value, "payload absent on the source clears the mirror field")

	assert.Equal(t, "/metadata/annotations/reflector.v1.k8s.emberstack.com~1reflected-version", ops[2].Path)
	assert.Equal(t, "100", ops[2].Value)

	assert.Equal(t, "/metadata/annotations/reflector.v1.k8s.emberstack.com~1reflected-at", ops[3].Path)
	assert.Equal(t, "2024-03-01T12:30:00Z", ops[3].Value)
}

func TestBuildSyncPatch_NeverTouchesImmutableFields(t *testing.T) {
	ops := buildSyncPatch(kinds.Secret, sourceSecret(), time.Now())
	for _, op := range ops {
		assert.NotEqual(t, "/type", op.Path)
	}
}

func TestNewMirror(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	mirror := newMirror(kinds.Secret, sourceSecret(), "ns-dst", now)

	assert.Equal(t, "ns-dst", mirror.GetNamespace())
	assert.Equal(t, "s", mirror.GetName())

	ann := mirror.GetAnnotations()
	assert.Equal(t, "ns-src/s", ann[constants.AnnotationReflects])
	assert.Equal(t, "100", ann[constants.AnnotationReflectedVersion])
	assert.Equal(t, "2024-03-01T12:30:00Z", ann[constants.AnnotationReflectedAt])
	assert.Equal(t, "true", ann[constants.AnnotationAutoReflects])
	assert.NotContains(t, ann, constants.AnnotationAllowed, "source annotations are not copied")

	assert.Empty(t, mirror.GetLabels(), "labels are not copied")

	data, _, err := unstructured.NestedStringMap(mirror.Object, "data")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "MQ=="}, data)

	secretType, _, err := unstructured.NestedString(mirror.Object, "type")
	require.NoError(t, err)
	assert.Equal(t, "Opaque", secretType, "immutable fields are copied at creation")
}

func TestNewMirror_PayloadIsCopied(t *testing.T) {
	source := sourceSecret()
	mirror := newMirror(kinds.Secret, source, "ns-dst", time.Now())

	mirror.Object["data"].(map[string]interface{})["a"] = "tampered"

	sourceData, _, _ := unstructured.NestedStringMap(source.Object, "data")
	assert.Equal(t, "MQ==", sourceData["a"], "mutating the mirror payload leaves the source intact")
}
