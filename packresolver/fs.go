package packresolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FsResolver fetches pack bytes from the local filesystem, confining every
// locator to a configured root directory.
type FsResolver struct {
	Root string
}

// NewFsResolver builds an FsResolver rooted at root.
func NewFsResolver(root string) *FsResolver {
	return &FsResolver{Root: root}
}

func (f *FsResolver) Scheme() string { return "fs" }

// Fetch strips the "fs://" prefix, resolves the remainder under Root (an
// absolute locator is still required to resolve inside Root; ".." segments
// cannot escape it), and reads the file.
func (f *FsResolver) Fetch(_ context.Context, locator string) ([]byte, error) {
	rest := strings.TrimPrefix(locator, "fs://")
	path, err := normalizeUnderRoot(f.Root, rest)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "packresolver: fs resolver failed to read %s", path)
	}
	return data, nil
}

// normalizeUnderRoot joins rel onto root and rejects the result if cleaning
// it walks outside of root via "..".
func normalizeUnderRoot(root, rel string) (string, error) {
	joined := filepath.Join(root, rel)
	cleanedRoot := filepath.Clean(root)
	if joined != cleanedRoot && !strings.HasPrefix(joined, cleanedRoot+string(filepath.Separator)) {
		return "", errors.Errorf("packresolver: locator %q escapes root %s", rel, root)
	}
	return joined, nil
}
