// Package oss is the client for the remote signed-resource (object storage)
// API: bucket and object CRUD, signed URL issuance, and paginated listing.
// Every call runs through the resiliency policy chain.
package oss

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/drafterd/drafter/internal/policy"
	"github.com/drafterd/drafter/internal/remote"
)

const (
	// listPageSize is fixed by the remote API contract.
	listPageSize = 50

	// DefaultSignedURLTTL is the signed URL expiry in minutes when the
	// caller does not specify one.
	DefaultSignedURLTTL = 30
)

// Client wraps the signed-resource API.
type Client struct {
	api    *remote.Client
	chain  *policy.Chain
	logger *slog.Logger
}

// NewClient creates a signed-resource client routing calls through chain.
func NewClient(api *remote.Client, chain *policy.Chain, logger *slog.Logger) *Client {
	return &Client{api: api, chain: chain, logger: logger}
}

// CreateBucket creates a bucket. An already-existing bucket is success.
func (c *Client) CreateBucket(ctx context.Context, key string) error {
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		var out bucketResponse
		return c.api.DoJSON(ctx, http.MethodPost, "/buckets", nil,
			createBucketRequest{BucketKey: key, PolicyKey: "persistent"}, &out)
	})
	if remote.IsConflict(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", key, err)
	}
	return nil
}

// DeleteBucket removes a bucket and everything in it.
func (c *Client) DeleteBucket(ctx context.Context, key string) error {
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodDelete, "/buckets/"+url.PathEscape(key), nil, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("delete bucket %s: %w", key, err)
	}
	return nil
}

// ListObjects walks the bucket's objects matching prefix, invoking fn for
// each one. Pages of 50 are fetched lazily, following the server's startAt
// cursor until exhausted. The sequence is finite and non-restartable; fn
// returning an error stops the walk.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, fn func(Object) error) error {
	cursor := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(listPageSize))
		if prefix != "" {
			q.Set("beginsWith", prefix)
		}
		if cursor != "" {
			q.Set("startAt", cursor)
		}

		var page listObjectsPage
		err := c.chain.Do(ctx, func(ctx context.Context) error {
			return c.api.DoJSON(ctx, http.MethodGet, "/buckets/"+url.PathEscape(bucket)+"/objects", q, nil, &page)
		})
		if err != nil {
			return fmt.Errorf("list objects in %s: %w", bucket, err)
		}

		for _, obj := range page.Items {
			if err := fn(obj); err != nil {
				return err
			}
		}

		if page.Next == "" {
			return nil
		}
		cursor = page.Next
	}
}

// CollectObjects materializes the full listing into a slice.
func (c *Client) CollectObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var objects []Object
	err := c.ListObjects(ctx, bucket, prefix, func(o Object) error {
		objects = append(objects, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// SignedURL issues a pre-authorized URL for the object with the given access
// mode, expiring after ttlMinutes (DefaultSignedURLTTL when <= 0).
//
// Remote API quirk: requesting a signed URL for an object that does not
// exist creates an empty object under that key.
func (c *Client) SignedURL(ctx context.Context, bucket, object string, access Access, ttlMinutes int) (string, error) {
	if ttlMinutes <= 0 {
		ttlMinutes = DefaultSignedURLTTL
	}

	q := url.Values{}
	q.Set("access", string(access))

	var out signedURLResponse
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodPost,
			c.objectPath(bucket, object)+"/signed", q,
			signedURLRequest{MinutesExpiration: ttlMinutes}, &out)
	})
	if err != nil {
		return "", fmt.Errorf("signed url for %s/%s: %w", bucket, object, err)
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("signed url for %s/%s: empty signedUrl in response", bucket, object)
	}
	return out.SignedURL, nil
}

// Upload stores the object, overwriting any existing content wholesale. The
// payload is buffered up front so every retried attempt resends the full
// body; handing the chain a one-shot reader would make a retried PUT write
// an empty object.
func (c *Client) Upload(ctx context.Context, bucket, object string, body io.Reader) (Object, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return Object{}, fmt.Errorf("upload %s/%s: read body: %w", bucket, object, err)
	}

	var out Object
	err = c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoStream(ctx, http.MethodPut, c.objectPath(bucket, object), nil,
			"application/octet-stream", bytes.NewReader(payload), &out)
	})
	if err != nil {
		return Object{}, fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}
	return out, nil
}

// Download returns the object's content. The caller owns the ReadCloser.
func (c *Client) Download(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		var err error
		rc, err = c.api.Fetch(ctx, c.objectPath(bucket, object), nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, object, err)
	}
	return rc, nil
}

// Copy duplicates an object under a new key within the same bucket.
func (c *Client) Copy(ctx context.Context, bucket, from, to string) error {
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodPut,
			c.objectPath(bucket, from)+"/copyto/"+url.PathEscape(to), nil, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("copy %s/%s to %s: %w", bucket, from, to, err)
	}
	return nil
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, bucket, object string) error {
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodDelete, c.objectPath(bucket, object), nil, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, object, err)
	}
	return nil
}

// Rename emulates a rename as copy-then-delete; the remote API has no
// native rename. Not atomic: a crash between the two steps leaves both the
// old and the new object in place.
func (c *Client) Rename(ctx context.Context, bucket, from, to string) error {
	if err := c.Copy(ctx, bucket, from, to); err != nil {
		return fmt.Errorf("rename %s/%s: %w", bucket, from, err)
	}
	if err := c.Delete(ctx, bucket, from); err != nil {
		return fmt.Errorf("rename %s/%s: source not removed: %w", bucket, from, err)
	}
	return nil
}

// ObjectDetails returns size, hash, and location for a single object.
func (c *Client) ObjectDetails(ctx context.Context, bucket, object string) (Object, error) {
	var out Object
	err := c.chain.Do(ctx, func(ctx context.Context) error {
		return c.api.DoJSON(ctx, http.MethodGet, c.objectPath(bucket, object)+"/details", nil, nil, &out)
	})
	if err != nil {
		return Object{}, fmt.Errorf("object details %s/%s: %w", bucket, object, err)
	}
	return out, nil
}

func (c *Client) objectPath(bucket, object string) string {
	return "/buckets/" + url.PathEscape(bucket) + "/objects/" + url.PathEscape(object)
}
