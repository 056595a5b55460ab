package packresolver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"
)

// AzBlobResolver fetches pack bytes from Azure Blob Storage, locators
// shaped "az://container/blob/path" against a fixed storage account.
type AzBlobResolver struct {
	accountName string
	pipeline    pipeline.Pipeline
}

// NewAzBlobResolver builds an AzBlobResolver authenticating with a shared
// account key.
func NewAzBlobResolver(accountName, accountKey string) (*AzBlobResolver, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, errors.Wrap(err, "packresolver: invalid azure shared key credential")
	}
	return &AzBlobResolver{
		accountName: accountName,
		pipeline:    azblob.NewPipeline(cred, azblob.PipelineOptions{}),
	}, nil
}

func (r *AzBlobResolver) Scheme() string { return "az" }

func (r *AzBlobResolver) Fetch(ctx context.Context, locator string) ([]byte, error) {
	container, blobPath, err := splitBucketKey(locator, "az://")
	if err != nil {
		return nil, err
	}
	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", r.accountName, container))
	if err != nil {
		return nil, errors.Wrap(err, "packresolver: failed to build azure container URL")
	}
	blobURL := azblob.NewContainerURL(*serviceURL, r.pipeline).NewBlockBlobURL(blobPath)

	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "packresolver: azblob fetch of %s failed", locator)
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	defer body.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, body); err != nil {
		return nil, errors.Wrap(err, "packresolver: azblob body read failed")
	}
	return buf.Bytes(), nil
}
