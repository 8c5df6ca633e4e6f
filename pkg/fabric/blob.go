package fabric

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// BlobFetcher loads artifact definitions from blob storage. Locators have
// the form azblob://<account>.blob.core.windows.net/<container>/<prefix>;
// every blob under the prefix becomes one definition part.
type BlobFetcher struct {
	credential azcore.TokenCredential

	// newClient is swapped in tests
	newClient func(serviceURL string, cred azcore.TokenCredential) (blobClient, error)
}

// blobClient is the narrow slice of the azblob client the fetcher uses.
type blobClient interface {
	listBlobs(ctx context.Context, container, prefix string) ([]string, error)
	download(ctx context.Context, container, name string) ([]byte, error)
}

// NewBlobFetcher creates a fetcher using the given token credential.
// A nil credential falls back to the default credential chain.
func NewBlobFetcher(credential azcore.TokenCredential) (*BlobFetcher, error) {
	if credential == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default credential for blob storage: %w", err)
		}
		credential = cred
	}
	return &BlobFetcher{
		credential: credential,
		newClient:  newAzblobClient,
	}, nil
}

// Load fetches every blob under the locator's prefix and inlines each as a
// base64 definition part, keyed by its path relative to the prefix.
func (f *BlobFetcher) Load(ctx context.Context, locator string) (*Definition, error) {
	serviceURL, container, prefix, err := parseBlobLocator(locator)
	if err != nil {
		return nil, err
	}

	client, err := f.newClient(serviceURL, f.credential)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	names, err := client.listBlobs(ctx, container, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs under %s: %w", locator, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("artifact source %s contains no definition files", locator)
	}

	def := &Definition{}
	for _, name := range names {
		data, err := client.download(ctx, container, name)
		if err != nil {
			return nil, fmt.Errorf("failed to download blob %s: %w", name, err)
		}
		def.Parts = append(def.Parts, DefinitionPart{
			Path:        strings.TrimPrefix(strings.TrimPrefix(name, prefix), "/"),
			Payload:     base64.StdEncoding.EncodeToString(data),
			PayloadType: inlineBase64,
		})
	}
	return def, nil
}

// parseBlobLocator splits azblob://<host>/<container>/<prefix> into the
// service URL, container name, and blob prefix.
func parseBlobLocator(locator string) (serviceURL, container, prefix string, err error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme != "azblob" || u.Host == "" {
		return "", "", "", fmt.Errorf("invalid blob locator: %s", locator)
	}

	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return "", "", "", fmt.Errorf("blob locator %s is missing a container", locator)
	}
	container = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return "https://" + u.Host, container, prefix, nil
}

// azblobAdapter implements blobClient over the real SDK client.
type azblobAdapter struct {
	client *azblob.Client
}

func newAzblobClient(serviceURL string, cred azcore.TokenCredential) (blobClient, error) {
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &azblobAdapter{client: client}, nil
}

func (a *azblobAdapter) listBlobs(ctx context.Context, container, prefix string) ([]string, error) {
	var names []string
	pager := a.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

func (a *azblobAdapter) download(ctx context.Context, container, name string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
