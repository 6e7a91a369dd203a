package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Collection binds a collection name to document encode/decode functions for one entity type.
type Collection[T any, D any] struct {
	provider *Provider
	name     string
	toDoc    func(T) D
	fromDoc  func(id string, doc D) T
}

// NewCollection constructs a typed collection accessor.
func NewCollection[T any, D any](provider *Provider, name string, toDoc func(T) D, fromDoc func(string, D) T) *Collection[T, D] {
	return &Collection[T, D]{provider: provider, name: name, toDoc: toDoc, fromDoc: fromDoc}
}

// Name returns the collection name.
func (c *Collection[T, D]) Name() string { return c.name }

// Ref returns the collection reference.
func (c *Collection[T, D]) Ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: collection is not configured")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

// Doc returns the reference to one document.
func (c *Collection[T, D]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if id == "" {
		return nil, WrapError(c.op("doc"), errors.New("firestore: document id is required"))
	}
	ref, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return ref.Doc(id), nil
}

// Encode converts an entity into its stored document form.
func (c *Collection[T, D]) Encode(value T) D { return c.toDoc(value) }

// Decode converts a snapshot into an entity.
func (c *Collection[T, D]) Decode(snap *firestore.DocumentSnapshot) (T, error) {
	var doc D
	if err := snap.DataTo(&doc); err != nil {
		var zero T
		return zero, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
	}
	return c.fromDoc(snap.Ref.ID, doc), nil
}

// Get loads and decodes a document.
func (c *Collection[T, D]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return zero, WrapError(c.op("get"), err)
	}
	return c.Decode(snap)
}

// Query runs the query built from the collection and decodes every result.
func (c *Collection[T, D]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]T, error) {
	ref, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	query := ref.Query
	if build != nil {
		query = build(query)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		value, err := c.Decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
}

func (c *Collection[T, D]) op(action string) string {
	return c.name + "." + action
}
