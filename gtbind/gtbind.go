// Package gtbind loads and merges tenant binding files (".gtbind"
// documents) that declare which pack_ids, pinned pack_refs and flow
// allowlists belong to a tenant. Multiple files for the same tenant are
// merged additively; a pack_id declared twice with a different pack_ref
// or pack_locator is a fatal configuration error, not a silent override.
package gtbind

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"
)

// PackBinding is one tenant's declaration of a single pack: the pack_id it
// is known by, the pack_ref it resolves to, an optional explicit
// pack_locator override, and the flow ids the tenant allows this pack to
// participate in.
type PackBinding struct {
	PackID      string
	PackRef     string
	PackLocator string
	Flows       []string
}

// TenantBindings is the fully merged binding set for one tenant, built up
// from every ".gtbind" file that declares that tenant.
type TenantBindings struct {
	Tenant         string
	Packs          []PackBinding
	EnvPassthrough []string
}

type gtbindFile struct {
	Tenant         string       `yaml:"tenant"`
	PackID         string       `yaml:"pack_id"`
	PackRef        string       `yaml:"pack_ref"`
	PackLocator    string       `yaml:"pack_locator"`
	Flows          []gtbindFlow `yaml:"flows"`
	EnvPassthrough []string     `yaml:"env_passthrough"`
}

type gtbindFlow struct {
	ID string `yaml:"id"`
}

// CollectPaths resolves an explicit file/dir list into a sorted,
// deduplicated list of ".gtbind" file paths: directories are scanned
// (non-recursively) for files carrying that extension.
func CollectPaths(paths []string, dirs []string) ([]string, error) {
	var resolved []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "gtbind: bindings path does not exist: %s", p)
		}
		if info.IsDir() {
			found, err := scanDir(p)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, found...)
		} else {
			resolved = append(resolved, p)
		}
	}
	for _, d := range dirs {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			return nil, errors.Errorf("gtbind: bindings dir does not exist: %s", d)
		}
		found, err := scanDir(d)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, found...)
	}
	resolved = dedupeSorted(resolved)
	return resolved, nil
}

func scanDir(dir string) ([]string, error) {
	var found []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if path != dir {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) == ".gtbind" {
				found = append(found, path)
			}
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "gtbind: failed to scan %s", dir)
	}
	return found, nil
}

func dedupeSorted(paths []string) []string {
	sort.Strings(paths)
	out := paths[:0]
	var prev string
	for i, p := range paths {
		if i > 0 && p == prev {
			continue
		}
		out = append(out, p)
		prev = p
	}
	return out
}

// Load reads and merges every ".gtbind" file in paths into a per-tenant
// map. A file with a blank tenant, pack_id or pack_ref is a fatal error;
// so is a pack_id redeclared for the same tenant with a conflicting
// pack_ref or pack_locator.
//
// Files are read and parsed concurrently (an errgroup, one goroutine per
// path — this is the I/O-bound half of loading a tenant's binding set, and
// parsing one file never depends on another); the merge step that follows
// walks the parsed results back in the original path order so the merge
// outcome stays deterministic regardless of goroutine completion order.
func Load(paths []string) (map[string]*TenantBindings, error) {
	parsed := make([]gtbindFile, len(paths))

	g, _ := errgroup.WithContext(context.Background())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			raw, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "gtbind: failed to read %s", path)
			}
			var file gtbindFile
			if err := yaml.Unmarshal(raw, &file); err != nil {
				return errors.Wrapf(err, "gtbind: failed to parse %s", path)
			}
			parsed[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tenants := map[string]*TenantBindings{}
	for i, file := range parsed {
		path := paths[i]
		if blank(file.Tenant) {
			return nil, errors.Errorf("gtbind: %s missing tenant", path)
		}
		if blank(file.PackID) {
			return nil, errors.Errorf("gtbind: %s missing pack_id", path)
		}
		if blank(file.PackRef) {
			return nil, errors.Errorf("gtbind: %s missing pack_ref", path)
		}

		var flows []string
		for _, f := range file.Flows {
			if !blank(f.ID) {
				flows = append(flows, f.ID)
			}
		}

		entry, ok := tenants[file.Tenant]
		if !ok {
			entry = &TenantBindings{Tenant: file.Tenant}
			tenants[file.Tenant] = entry
		}
		if err := mergePack(entry, PackBinding{
			PackID:      file.PackID,
			PackRef:     file.PackRef,
			PackLocator: file.PackLocator,
			Flows:       flows,
		}, path); err != nil {
			return nil, err
		}
		mergeEnv(entry, file.EnvPassthrough)
	}
	return tenants, nil
}

func mergePack(tenant *TenantBindings, pack PackBinding, path string) error {
	for i := range tenant.Packs {
		existing := &tenant.Packs[i]
		if existing.PackID != pack.PackID {
			continue
		}
		if existing.PackRef != pack.PackRef {
			return errors.Errorf("gtbind: pack_ref mismatch for tenant %s pack %s (%s)", tenant.Tenant, pack.PackID, path)
		}
		if existing.PackLocator != "" && pack.PackLocator != "" && existing.PackLocator != pack.PackLocator {
			return errors.Errorf("gtbind: pack_locator mismatch for tenant %s pack %s (%s)", tenant.Tenant, pack.PackID, path)
		}
		if existing.PackLocator == "" && pack.PackLocator != "" {
			existing.PackLocator = pack.PackLocator
		}
		existing.Flows = mergeDedupeSorted(existing.Flows, pack.Flows)
		return nil
	}
	tenant.Packs = append(tenant.Packs, pack)
	sort.Slice(tenant.Packs, func(i, j int) bool { return tenant.Packs[i].PackID < tenant.Packs[j].PackID })
	return nil
}

func mergeEnv(tenant *TenantBindings, envs []string) {
	tenant.EnvPassthrough = mergeDedupeSorted(tenant.EnvPassthrough, envs)
}

func mergeDedupeSorted(existing, incoming []string) []string {
	set := map[string]struct{}{}
	for _, v := range existing {
		set[v] = struct{}{}
	}
	for _, v := range incoming {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func blank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' {
			return false
		}
	}
	return true
}
