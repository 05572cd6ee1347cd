package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/kube-reflector/reflector/pkg/kinds"
)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, corev1.AddToScheme(scheme))
	return scheme
}

func newSecret(namespace, name string, data map[string]interface{}) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata": map[string]interface{}{
			"namespace":   namespace,
			"name":        name,
			"annotations": map[string]interface{}{},
		},
		"type": "Opaque",
		"data": data,
	}}
}

func TestClient_ListAndGet(t *testing.T) {
	dyn := dynamicfake.NewSimpleDynamicClient(newScheme(t),
		newSecret("ns-src", "s1", map[string]interface{}{"a": "MQ=="}),
		newSecret("ns-dst", "s2", map[string]interface{}{"b": "Mg=="}),
	)
	client := NewClient(dyn)

	items, _, err := client.List(context.Background(), kinds.Secret)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	obj, err := client.Get(context.Background(), kinds.Secret, "ns-src", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", obj.GetName())

	_, err = client.Get(context.Background(), kinds.Secret, "ns-src", "missing")
	assert.True(t, apierrors.IsNotFound(err))
}

func TestClient_CreateAndDelete(t *testing.T) {
	dyn := dynamicfake.NewSimpleDynamicClient(newScheme(t))
	client := NewClient(dyn)

	_, err := client.Create(context.Background(), kinds.Secret, newSecret("ns-dst", "s", nil))
	require.NoError(t, err)

	_, err = client.Create(context.Background(), kinds.Secret, newSecret("ns-dst", "s", nil))
	assert.True(t, apierrors.IsAlreadyExists(err))

	require.NoError(t, client.Delete(context.Background(), kinds.Secret, "ns-dst", "s"))

	_, err = client.Get(context.Background(), kinds.Secret, "ns-dst", "s")
	assert.True(t, apierrors.IsNotFound(err))

	assert.NoError(t, client.Delete(context.Background(), kinds.Secret, "ns-dst", "s"),
		"deleting an absent object succeeds")
}

func TestClient_Patch(t *testing.T) {
	dyn := dynamicfake.NewSimpleDynamicClient(newScheme(t),
		newSecret("ns-dst", "s", map[string]interface{}{"a": "MQ=="}),
	)
	client := NewClient(dyn)

	patch := []byte(`[{"op":"add","path":"/data","value":{"a":"Mg=="}}]`)
	updated, err := client.Patch(context.Background(), kinds.Secret, "ns-dst", "s", patch)
	require.NoError(t, err)

	data, _, err := unstructured.NestedStringMap(updated.Object, "data")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "Mg=="}, data)

	_, err = client.Patch(context.Background(), kinds.Secret, "ns-dst", "missing", patch)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestClient_Watch(t *testing.T) {
	dyn := dynamicfake.NewSimpleDynamicClient(newScheme(t))
	client := NewClient(dyn)

	stream, err := client.Watch(context.Background(), kinds.Secret, "")
	require.NoError(t, err)
	defer stream.Stop()

	_, err = client.Create(context.Background(), kinds.Secret, newSecret("ns-src", "s", nil))
	require.NoError(t, err)

	event := <-stream.ResultChan()
	assert.Equal(t, watch.Added, event.Type)
}

func TestClient_ListNamespaces(t *testing.T) {
	ns := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Namespace",
		"metadata":   map[string]interface{}{"name": "team-red"},
	}}
	dyn := dynamicfake.NewSimpleDynamicClient(newScheme(t), ns)
	client := NewClient(dyn)

	items, _, err := client.List(context.Background(), kinds.Namespace)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "team-red", items[0].GetName())
}
