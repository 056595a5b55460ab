package packresolver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// OciResolver fetches a blob from an OCI distribution-spec registry over
// plain HTTPS, locators shaped "oci://registry/repository@sha256:digest".
// No OCI registry client library is part of this host's dependency set,
// so this resolver talks the distribution spec's blob GET endpoint
// directly with net/http rather than inventing a fake dependency.
type OciResolver struct {
	client *http.Client
}

// NewOciResolver builds an OciResolver over a plain *http.Client.
func NewOciResolver(client *http.Client) *OciResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &OciResolver{client: client}
}

func (r *OciResolver) Scheme() string { return "oci" }

func (r *OciResolver) Fetch(ctx context.Context, locator string) ([]byte, error) {
	rest := strings.TrimPrefix(locator, "oci://")
	registry, repoDigest, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, errors.Errorf("packresolver: oci locator %q must be oci://registry/repo@digest", locator)
	}
	repo, digest, ok := strings.Cut(repoDigest, "@")
	if !ok {
		return nil, errors.Errorf("packresolver: oci locator %q missing @digest", locator)
	}

	url := "https://" + registry + "/v2/" + repo + "/blobs/" + digest
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "packresolver: failed to build oci blob request")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "packresolver: oci fetch of %s failed", locator)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("packresolver: oci registry returned %s for %s", resp.Status, locator)
	}
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, errors.Wrap(err, "packresolver: oci body read failed")
	}
	return buf.Bytes(), nil
}
