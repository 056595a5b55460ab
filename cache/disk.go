package cache

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"
	cuckoo "github.com/seiflotfy/cuckoofilter"
	"github.com/teris-io/shortid"
	"github.com/tidwall/buntdb"

	"github.com/wasmrunner/host/engine"
)

// DiskCache is the atomic, on-disk tier of the artifact cache. Layout:
//
//	<root>/v1/<engine_profile_id>/artifacts/<digest_mangled>.cwasm
//	<root>/v1/<engine_profile_id>/artifacts/<digest_mangled>.json
//	<root>/v1/<engine_profile_id>/tmp/tmp_<pid>_<nanos>_<suffix>
type DiskCache struct {
	root    string
	profile engine.Profile

	mu     sync.Mutex
	filter *cuckoo.Filter // presence pre-check; false negatives never happen, false positives just cost a read
	index  *buntdb.DB     // last_access_at/artifact_bytes accelerator for PruneToLimit; sidecar files remain ground truth
}

// NewDiskCache opens (or creates) the disk cache rooted at root for one
// engine profile, along with its cuckoo presence filter and buntdb index.
func NewDiskCache(root string, profile engine.Profile) (*DiskCache, error) {
	base := filepath.Join(root, "v1", profile.ID)
	if err := os.MkdirAll(filepath.Join(base, "artifacts"), 0o755); err != nil {
		return nil, errors.Wrap(err, "disk cache: create artifacts dir")
	}
	if err := os.MkdirAll(filepath.Join(base, "tmp"), 0o755); err != nil {
		return nil, errors.Wrap(err, "disk cache: create tmp dir")
	}

	db, err := buntdb.Open(filepath.Join(base, "index.db"))
	if err != nil {
		return nil, errors.Wrap(err, "disk cache: open buntdb index")
	}

	dc := &DiskCache{root: root, profile: profile, filter: cuckoo.NewFilter(100_000), index: db}
	dc.rebuildFilterFromDisk()
	return dc, nil
}

func (d *DiskCache) baseDir() string { return filepath.Join(d.root, "v1", d.profile.ID) }

func (d *DiskCache) artifactPath(mangled string) string {
	return filepath.Join(d.baseDir(), "artifacts", mangled+".cwasm")
}

func (d *DiskCache) sidecarPath(mangled string) string {
	return filepath.Join(d.baseDir(), "artifacts", mangled+".json")
}

func (d *DiskCache) tmpPath() string {
	suffix, _ := shortid.Generate()
	return filepath.Join(d.baseDir(), "tmp", "tmp_"+strconv.Itoa(os.Getpid())+"_"+strconv.FormatInt(time.Now().UnixNano(), 10)+"_"+suffix)
}

func (d *DiskCache) rebuildFilterFromDisk() {
	_ = godirwalk.Walk(filepath.Join(d.baseDir(), "artifacts"), &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if filepath.Ext(path) == ".cwasm" {
				d.filter.InsertUnique([]byte(filepath.Base(path)))
			}
			return nil
		},
		Unsorted: true,
	})
}

// TryRead reads and validates a cached artifact. On any inconsistency
// (missing sidecar, parse error, size mismatch, profile mismatch, missing
// artifact bytes) the entry is deleted and a miss is returned. On hit,
// last_access_at is touched via an atomic rewrite of the sidecar.
func (d *DiskCache) TryRead(key engine.ArtifactKey) ([]byte, bool) {
	mangled := key.MangledDigest()
	if !d.filter.Lookup([]byte(mangled + ".cwasm")) {
		return nil, false
	}

	sidecarRaw, err := os.ReadFile(d.sidecarPath(mangled))
	if err != nil {
		d.Delete(key)
		return nil, false
	}
	var meta Metadata
	if err := json.Unmarshal(sidecarRaw, &meta); err != nil {
		d.Delete(key)
		return nil, false
	}
	if !meta.MatchesProfile(d.profile) || meta.ContentDigest != key.ContentDigest {
		d.Delete(key)
		return nil, false
	}

	compressed, err := os.ReadFile(d.artifactPath(mangled))
	if err != nil {
		d.Delete(key)
		return nil, false
	}
	if int64(len(compressed)) != meta.ArtifactBytes {
		d.Delete(key)
		return nil, false
	}

	raw, err := decompress(compressed)
	if err != nil {
		d.Delete(key)
		return nil, false
	}

	d.touch(mangled, meta)
	return raw, true
}

// touch best-effort rewrites last_access_at; a race with a concurrent
// prune losing this update is acceptable since it only delays eviction
// of a recently-read entry by one access, never corrupts anything.
func (d *DiskCache) touch(mangled string, meta Metadata) {
	meta.LastAccessAt = time.Now().UnixNano()
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return
	}
	_ = d.writeAtomic(d.sidecarPath(mangled), encoded)
	_ = d.index.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(mangled, indexValue(meta.LastAccessAt, meta.ArtifactBytes), nil)
		return err
	})
}

// WriteAtomic compresses bytes with lz4, writes both the artifact and its
// metadata sidecar to unique tmp paths, then renames each into place.
// meta is pre-validated to match the cache's profile and carry the key's
// digest before any filesystem write occurs.
func (d *DiskCache) WriteAtomic(key engine.ArtifactKey, raw []byte, meta Metadata) error {
	if !meta.MatchesProfile(d.profile) {
		return errors.New("disk cache: metadata profile does not match cache profile")
	}
	if meta.ContentDigest != key.ContentDigest {
		return errors.New("disk cache: metadata digest does not match key digest")
	}

	mangled := key.MangledDigest()
	compressed := compress(raw)
	meta.ArtifactBytes = int64(len(compressed))

	encodedMeta, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "disk cache: encode metadata")
	}

	if err := d.writeAtomic(d.artifactPath(mangled), compressed); err != nil {
		return errors.Wrap(err, "disk cache: write artifact")
	}
	if err := d.writeAtomic(d.sidecarPath(mangled), encodedMeta); err != nil {
		return errors.Wrap(err, "disk cache: write sidecar")
	}

	d.filter.InsertUnique([]byte(mangled + ".cwasm"))
	_ = d.index.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(mangled, indexValue(meta.LastAccessAt, meta.ArtifactBytes), nil)
		return err
	})
	return nil
}

// indexValue encodes an entry's last_access_at and artifact_bytes into the
// buntdb index's value string, so PruneToLimit can read both fields back
// without reopening the JSON sidecar.
func indexValue(lastAccessAt, artifactBytes int64) string {
	return strconv.FormatInt(lastAccessAt, 10) + ":" + strconv.FormatInt(artifactBytes, 10)
}

// parseIndexValue reverses indexValue; ok is false if v is not in the
// expected "<lastAccessAt>:<artifactBytes>" shape.
func parseIndexValue(v string) (lastAccessAt, artifactBytes int64, ok bool) {
	sep := strings.IndexByte(v, ':')
	if sep < 0 {
		return 0, 0, false
	}
	lastAccessAt, err1 := strconv.ParseInt(v[:sep], 10, 64)
	artifactBytes, err2 := strconv.ParseInt(v[sep+1:], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lastAccessAt, artifactBytes, true
}

// writeAtomic writes data to a unique tmp file, flushes, closes, then
// renames it into place, so a reader never observes a partially written
// file: rename within the same filesystem is atomic, while a direct write
// to the final path is not.
func (d *DiskCache) writeAtomic(finalPath string, data []byte) (err error) {
	tmp := d.tmpPath()
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, finalPath)
}

// Delete removes both the artifact and sidecar files for key; errors are
// ignored since the caller is already treating this entry as unusable and
// has nowhere useful to propagate a removal failure to.
func (d *DiskCache) Delete(key engine.ArtifactKey) {
	mangled := key.MangledDigest()
	_ = os.Remove(d.artifactPath(mangled))
	_ = os.Remove(d.sidecarPath(mangled))
	_ = d.index.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(mangled)
		return err
	})
}

// ApproxSizeBytes sums the size of every *.cwasm file under artifacts/.
func (d *DiskCache) ApproxSizeBytes() (int64, error) {
	var total int64
	err := godirwalk.Walk(filepath.Join(d.baseDir(), "artifacts"), &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || filepath.Ext(path) != ".cwasm" {
				return nil
			}
			info, statErr := os.Stat(path)
			if statErr != nil {
				return nil
			}
			total += info.Size()
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return 0, errors.Wrap(err, "disk cache: walk artifacts dir")
	}
	return total, nil
}

// ArtifactCount counts *.cwasm files under artifacts/.
func (d *DiskCache) ArtifactCount() (int, error) {
	count := 0
	err := godirwalk.Walk(filepath.Join(d.baseDir(), "artifacts"), &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsDir() && filepath.Ext(path) == ".cwasm" {
				count++
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return 0, errors.Wrap(err, "disk cache: walk artifacts dir")
	}
	return count, nil
}

// PruneResult reports the work done by PruneToLimit.
type PruneResult struct {
	RemovedEntries int
	RemovedBytes   int64
}

type sidecarEntry struct {
	mangled      string
	lastAccessAt int64
	bytes        int64
}

// PruneToLimit orders cached entries by last_access_at ascending (missing
// timestamps sort first) and removes entries until the total falls at or
// below maxBytes. In dry-run mode nothing is removed but the counts that
// WOULD be removed are still reported.
//
// Ordering and per-entry sizes normally come straight from the buntdb
// index populated by WriteAtomic/touch/Delete, avoiding a JSON parse per
// cached entry. The index is trusted only when its entry count matches
// the number of artifacts actually on disk; any mismatch (a missing or
// stale index, e.g. after a crash between a filesystem write and its
// index update) falls back to a full sidecar scan, which also rebuilds
// the index for subsequent calls.
func (d *DiskCache) PruneToLimit(maxBytes int64, dryRun bool) (PruneResult, error) {
	entries, total, err := d.entriesFromIndex()
	if err != nil {
		return PruneResult{}, err
	}
	if entries == nil {
		entries, total, err = d.entriesFromSidecarScan()
		if err != nil {
			return PruneResult{}, err
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].lastAccessAt != entries[j].lastAccessAt {
			return entries[i].lastAccessAt < entries[j].lastAccessAt
		}
		return entries[i].mangled < entries[j].mangled // stable tiebreak by filename
	})

	result := PruneResult{}
	for _, e := range entries {
		if total <= maxBytes {
			break
		}
		result.RemovedEntries++
		result.RemovedBytes += e.bytes
		total -= e.bytes
		if !dryRun {
			_ = os.Remove(d.artifactPath(e.mangled))
			_ = os.Remove(d.sidecarPath(e.mangled))
			_ = d.index.Update(func(tx *buntdb.Tx) error {
				_, err := tx.Delete(e.mangled)
				return err
			})
		}
	}
	return result, nil
}

// entriesFromIndex reads every (mangled, last_access_at, bytes) triple
// straight from the buntdb index. It returns a nil slice (not an error) if
// the index's entry count doesn't match the number of artifacts on disk,
// signaling the caller to fall back to entriesFromSidecarScan instead of
// pruning against stale data.
func (d *DiskCache) entriesFromIndex() ([]sidecarEntry, int64, error) {
	diskCount, err := d.ArtifactCount()
	if err != nil {
		return nil, 0, err
	}

	var entries []sidecarEntry
	var total int64
	stale := false
	err = d.index.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			lastAccessAt, artifactBytes, ok := parseIndexValue(value)
			if !ok {
				stale = true
				return false
			}
			entries = append(entries, sidecarEntry{mangled: key, lastAccessAt: lastAccessAt, bytes: artifactBytes})
			total += artifactBytes
			return true
		})
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "disk cache: read buntdb index")
	}
	if stale || len(entries) != diskCount {
		return nil, 0, nil
	}
	return entries, total, nil
}

// entriesFromSidecarScan walks every metadata sidecar under artifacts/ and
// parses it directly; this is the ground-truth path used when the buntdb
// index is missing or inconsistent with what's on disk. It also rewrites
// the index from what it finds so the next PruneToLimit call can use the
// fast path again.
func (d *DiskCache) entriesFromSidecarScan() ([]sidecarEntry, int64, error) {
	var entries []sidecarEntry
	var total int64

	err := godirwalk.Walk(filepath.Join(d.baseDir(), "artifacts"), &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || filepath.Ext(path) != ".json" {
				return nil
			}
			raw, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil
			}
			var meta Metadata
			if json.Unmarshal(raw, &meta) != nil {
				return nil
			}
			mangled := filepath.Base(path)
			mangled = mangled[:len(mangled)-len(".json")]
			entries = append(entries, sidecarEntry{mangled: mangled, lastAccessAt: meta.LastAccessAt, bytes: meta.ArtifactBytes})
			total += meta.ArtifactBytes
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "disk cache: walk sidecars for prune")
	}

	_ = d.index.Update(func(tx *buntdb.Tx) error {
		for _, e := range entries {
			if _, _, err := tx.Set(e.mangled, indexValue(e.lastAccessAt, e.bytes), nil); err != nil {
				return err
			}
		}
		return nil
	})

	return entries, total, nil
}

// Close releases the buntdb index handle.
func (d *DiskCache) Close() error {
	return d.index.Close()
}

func compress(raw []byte) []byte {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, _ = w.Write(raw)
	_ = w.Close()
	return buf.Bytes()
}

func decompress(compressed []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}
