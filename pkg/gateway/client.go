package gateway

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"github.com/kube-reflector/reflector/pkg/kinds"
)

// Client implements Gateway over the dynamic client.
type Client struct {
	dynamic dynamic.Interface
}

var _ Gateway = (*Client)(nil)

// NewClient wraps a dynamic client as a Gateway.
func NewClient(dyn dynamic.Interface) *Client {
	return &Client{dynamic: dyn}
}

func (c *Client) List(ctx context.Context, kind kinds.Kind) ([]unstructured.Unstructured, string, error) {
	list, err := c.dynamic.Resource(kind.Resource).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("listing %s: %w", kind.Resource.Resource, err)
	}
	return list.Items, list.GetResourceVersion(), nil
}

func (c *Client) Watch(ctx context.Context, kind kinds.Kind, resourceVersion string) (watch.Interface, error) {
	w, err := c.dynamic.Resource(kind.Resource).Watch(ctx, metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: false,
	})
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", kind.Resource.Resource, err)
	}
	return w, nil
}

func (c *Client) Get(ctx context.Context, kind kinds.Kind, namespace, name string) (*unstructured.Unstructured, error) {
	return c.dynamic.Resource(kind.Resource).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
}

func (c *Client) Patch(ctx context.Context, kind kinds.Kind, namespace, name string, patch []byte) (*unstructured.Unstructured, error) {
	return c.dynamic.Resource(kind.Resource).Namespace(namespace).Patch(ctx, name, types.JSONPatchType, patch, metav1.PatchOptions{})
}

func (c *Client) Create(ctx context.Context, kind kinds.Kind, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	return c.dynamic.Resource(kind.Resource).Namespace(obj.GetNamespace()).Create(ctx, obj, metav1.CreateOptions{})
}

func (c *Client) Delete(ctx context.Context, kind kinds.Kind, namespace, name string) error {
	err := c.dynamic.Resource(kind.Resource).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}
