// Package blob provides the secondary storage target: an Azure Blob Storage
// container that receives a direct copy of job outputs, giving callers a
// stable URL independent of the engine's short-lived signed URLs.
package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

// DefaultUploadTTL is how long a signed upload URL stays valid. Long enough
// for a slow engine job to finish and write its output.
const DefaultUploadTTL = time.Hour

// Target is an Azure Blob Storage container used as the mirror destination
// for job outputs.
type Target struct {
	client    *azblob.Client
	cred      *azblob.SharedKeyCredential
	account   string
	container string
	logger    *slog.Logger
}

// NewTarget creates a target for one container under the given storage
// account. The key is the account's shared access key.
func NewTarget(account, key, container string, logger *slog.Logger) (*Target, error) {
	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("blob credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("blob client: %w", err)
	}

	return &Target{
		client:    client,
		cred:      cred,
		account:   account,
		container: container,
		logger:    logger,
	}, nil
}

// EnsureContainer creates the container if it does not exist yet.
func (t *Target) EnsureContainer(ctx context.Context) error {
	_, err := t.client.CreateContainer(ctx, t.container, nil)
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create container %s: %w", t.container, err)
	}
	return nil
}

// SignedUploadURL returns a write-capable SAS URL for the named blob. The
// engine PUTs the output there directly; this process never relays the
// bytes.
func (t *Target) SignedUploadURL(_ context.Context, name string) (string, error) {
	now := time.Now().UTC()
	perms := sas.BlobPermissions{Read: true, Create: true, Write: true}

	values := sas.BlobSignatureValues{
		Protocol: sas.ProtocolHTTPS,
		// Backdated start absorbs clock skew between here and the engine.
		StartTime:     now.Add(-10 * time.Minute),
		ExpiryTime:    now.Add(DefaultUploadTTL),
		Permissions:   perms.String(),
		ContainerName: t.container,
		BlobName:      name,
	}

	qp, err := values.SignWithSharedKey(t.cred)
	if err != nil {
		return "", fmt.Errorf("sign upload url for %s: %w", name, err)
	}
	return t.BlobURL(name) + "?" + qp.Encode(), nil
}

// BlobURL returns the blob's unauthenticated URL.
func (t *Target) BlobURL(name string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", t.account, t.container, name)
}

// Exists reports whether the named blob has landed in the container.
func (t *Target) Exists(ctx context.Context, name string) (bool, error) {
	blobClient := t.client.ServiceClient().NewContainerClient(t.container).NewBlobClient(name)
	_, err := blobClient.GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blob properties %s: %w", name, err)
	}
	return true, nil
}

// Upload writes the blob directly, for paths where this process holds the
// bytes itself rather than handing the engine a signed URL.
func (t *Target) Upload(ctx context.Context, name string, r io.Reader) error {
	if _, err := t.client.UploadStream(ctx, t.container, name, r, nil); err != nil {
		return fmt.Errorf("upload blob %s: %w", name, err)
	}
	return nil
}

// Download streams the named blob.
func (t *Target) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := t.client.DownloadStream(ctx, t.container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("download blob %s: %w", name, err)
	}
	return resp.Body, nil
}

// Delete removes the named blob. Absent blobs are not an error.
func (t *Target) Delete(ctx context.Context, name string) error {
	_, err := t.client.DeleteBlob(ctx, t.container, name, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}

// Reachable probes the container, for startup checks and health reporting.
func (t *Target) Reachable(ctx context.Context) error {
	containerClient := t.client.ServiceClient().NewContainerClient(t.container)
	if _, err := containerClient.GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("container %s unreachable: %w", t.container, err)
	}
	return nil
}
