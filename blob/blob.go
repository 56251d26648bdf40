// Package blob checks that cited documents exist in Azure Blob Storage.
package blob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

type Checker struct {
	client *azblob.Client
	logger *slog.Logger
}

// NewChecker authenticates against serviceURL with an account shared key.
func NewChecker(serviceURL, account, key string, logger *slog.Logger) (*Checker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("create storage credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	return &Checker{client: client, logger: logger}, nil
}

// Exists reports whether name is present in container. Missing blobs and
// missing containers are not errors.
func (c *Checker) Exists(ctx context.Context, container, name string) (bool, error) {
	blob := c.client.ServiceClient().NewContainerClient(container).NewBlobClient(name)

	_, err := blob.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return false, nil
	}
	c.logger.Warn("blob lookup failed", "container", container, "name", name, "error", err)
	return false, fmt.Errorf("get blob properties %s/%s: %w", container, name, err)
}

// Ping checks that container is reachable with the configured credential.
func (c *Checker) Ping(ctx context.Context, container string) error {
	if _, err := c.client.ServiceClient().NewContainerClient(container).GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("get container properties %s: %w", container, err)
	}
	return nil
}
