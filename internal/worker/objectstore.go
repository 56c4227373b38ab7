package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ObjectStore keeps rendered audio for consumers of the reply.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
}

// NatsObjectStore stores objects in a JetStream object store bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// NewNatsObjectStore creates the bucket, or binds to it when it already exists.
// A bucket created with a different configuration is bound as it is.
func NewNatsObjectStore(js nats.JetStreamContext, bucket string) (*NatsObjectStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Synthesized chatterbox audio.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !bucketExists(err) {
			return nil, fmt.Errorf("create object store bucket %q: %w", bucket, err)
		}
		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("bind object store bucket %q: %w", bucket, err)
		}
	}

	return &NatsObjectStore{bucket: bucket, store: store}, nil
}

// bucketExists matches both spellings of "already there": the jetstream
// package error and the stream-name conflict the legacy context reports when
// the existing bucket's config differs.
func bucketExists(err error) bool {
	return errors.Is(err, jetstream.ErrBucketExists) || errors.Is(err, nats.ErrStreamNameAlreadyInUse)
}

func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	if _, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("put %q to bucket %q: %w", key, n.bucket, err)
	}

	return nil
}

func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("get %q from bucket %q: %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read %q: %w", key, readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("close %q: %w", key, closeErr)
	}

	return data, nil
}
