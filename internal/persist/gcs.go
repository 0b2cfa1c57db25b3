package persist

import (
	"context"
	"fmt"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSaver uploads output to a Cloud Storage bucket.
type GCSSaver struct {
	client *storage.Client
	Bucket string
	Prefix string
}

// NewGCSSaver creates a storage client. An empty credentialsFile falls back
// to application default credentials.
func NewGCSSaver(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSSaver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs saver requires a bucket")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSSaver{client: client, Bucket: bucket, Prefix: prefix}, nil
}

func (g *GCSSaver) Save(ctx context.Context, name string, jpeg []byte) (string, error) {
	object := path.Join(g.Prefix, name)
	w := g.client.Bucket(g.Bucket).Object(object).NewWriter(ctx)
	w.ContentType = "image/jpeg"
	w.CacheControl = "private, no-store"

	if _, err := w.Write(jpeg); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.Bucket, object), nil
}

func (g *GCSSaver) Close() error {
	return g.client.Close()
}
