// Package provider composes and publishes the content-addressed
// provider tree Composer's packages.json -> provider-includes ->
// providers-url protocol consumes: a hashed, atomically-swapped,
// garbage-collected tree on disk.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/queue"
	"github.com/craftreg/registry/pkg/store"
)

// DefaultGCDelay is the window given to in-flight readers of a
// superseded provider file before it is deleted, used when the caller
// doesn't supply one of its own.
const DefaultGCDelay = 5 * time.Minute

// Emitter composes the provider tree from Store state and publishes it.
type Emitter struct {
	store   store.Store
	queue   queue.Queue
	webroot string
	gcDelay time.Duration
	log     *logrus.Entry
}

// New builds an Emitter that writes the provider tree under webroot.
// gcDelay is the window given to in-flight readers of a superseded
// provider file before EnqueueDeletePaths makes it eligible for
// deletion; a zero gcDelay falls back to DefaultGCDelay.
func New(st store.Store, q queue.Queue, webroot string, gcDelay time.Duration, log *logrus.Entry) *Emitter {
	if gcDelay == 0 {
		gcDelay = DefaultGCDelay
	}
	return &Emitter{store: st, queue: q, webroot: webroot, gcDelay: gcDelay, log: log}
}

// versionObject is one entry of a provider file's packages.<name> map.
// Field order is fixed by declaration order, which is what makes two
// emissions of the same data byte-identical, since encoding/json
// serializes struct fields in declaration order.
type versionObject struct {
	Name              string      `json:"name"`
	Description       string      `json:"description"`
	Keywords          []string    `json:"keywords"`
	Homepage          string      `json:"homepage"`
	Version           string      `json:"version"`
	VersionNormalized string      `json:"version_normalized"`
	License           []string    `json:"license"`
	Authors           interface{} `json:"authors"`
	Dist              interface{} `json:"dist"`
	Type              string      `json:"type"`
	Time              string      `json:"time,omitempty"`
	Autoload          interface{} `json:"autoload,omitempty"`
	Extra             interface{} `json:"extra,omitempty"`
	TargetDir         string      `json:"target-dir,omitempty"`
	IncludePath       interface{} `json:"include-path,omitempty"`
	Bin               []string    `json:"bin,omitempty"`
	Require           interface{} `json:"require,omitempty"`
	Suggest           interface{} `json:"suggest,omitempty"`
	Conflict          interface{} `json:"conflict,omitempty"`
	Provide           interface{} `json:"provide,omitempty"`
	Replace           interface{} `json:"replace,omitempty"`
	Abandoned         interface{} `json:"abandoned,omitempty"`
	UID               int64       `json:"uid"`
}

type providerFile struct {
	Packages map[string]map[string]versionObject `json:"packages"`
}

type providerIndex struct {
	Providers map[string]providerEntry `json:"providers"`
}

type providerEntry struct {
	SHA256 string `json:"sha256"`
}

type rootManifest struct {
	Packages         []interface{}            `json:"packages"`
	ProviderIncludes map[string]providerEntry `json:"provider-includes"`
	ProvidersURL     string                   `json:"providers-url"`
}

// DumpProviderJSON composes the full provider tree from current Store
// state and publishes it under the configured webroot.
func (e *Emitter) DumpProviderJSON(ctx context.Context) error {
	packages, err := e.store.PublishedPackages(ctx)
	if err != nil {
		return fmt.Errorf("provider: list published packages: %w", err)
	}

	providers := make(map[string]providerEntry, len(packages))
	var allDeleted []string

	for _, pkg := range packages {
		hash, deleted, err := e.writePackageFile(ctx, pkg)
		if err != nil {
			return fmt.Errorf("provider: package %s: %w", pkg.Name, err)
		}
		providers[pkg.Name] = providerEntry{SHA256: hash}
		allDeleted = append(allDeleted, deleted...)
	}

	indexHash, indexDeleted, err := e.writeProviderIndex(providers)
	if err != nil {
		return fmt.Errorf("provider: index: %w", err)
	}
	allDeleted = append(allDeleted, indexDeleted...)

	if err := e.writeRootManifest(indexHash); err != nil {
		return fmt.Errorf("provider: root manifest: %w", err)
	}

	if len(allDeleted) > 0 {
		if err := e.queue.EnqueueDeletePaths(ctx, allDeleted, e.gcDelay); err != nil {
			return fmt.Errorf("provider: schedule gc: %w", err)
		}
	}

	return nil
}

// writePackageFile builds one package's provider file, hashes it, and
// swaps it into {webroot}/p/{name}/{hash}.json.
func (e *Emitter) writePackageFile(ctx context.Context, pkg model.Package) (hash string, deleted []string, err error) {
	versions, err := e.store.VersionsForEmission(ctx, pkg.ID)
	if err != nil {
		return "", nil, err
	}

	byVersion := make(map[string]versionObject, len(versions))
	for _, v := range versions {
		edges, err := e.store.EdgesForVersion(ctx, v.ID)
		if err != nil {
			return "", nil, err
		}
		byVersion[v.Version] = buildVersionObject(pkg, v, edges)
	}

	doc := providerFile{Packages: map[string]map[string]versionObject{pkg.Name: byVersion}}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", nil, err
	}

	hash = hashHex(body)
	dir := filepath.Join(e.webroot, "p", pkg.Name)
	deleted, err = e.atomicSwap(dir, hash, body)
	return hash, deleted, err
}

func (e *Emitter) writeProviderIndex(providers map[string]providerEntry) (hash string, deleted []string, err error) {
	body, err := json.Marshal(providerIndex{Providers: providers})
	if err != nil {
		return "", nil, err
	}

	hash = hashHex(body)
	dir := filepath.Join(e.webroot, "p", "provider")
	deleted, err = e.atomicSwap(dir, hash, body)
	return hash, deleted, err
}

func (e *Emitter) writeRootManifest(indexHash string) error {
	manifest := rootManifest{
		Packages: []interface{}{},
		ProviderIncludes: map[string]providerEntry{
			"p/provider/%hash%.json": {SHA256: indexHash},
		},
		ProvidersURL: "/p/%package%/%hash%.json",
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}

	return writeFileAtomically(filepath.Join(e.webroot, "packages.json"), body)
}

// atomicSwap enumerates the directory's existing files before writing;
// if hash.json already exists it's a no-op; otherwise it writes the new
// file and returns every previously-existing sibling as a path to
// delete later.
func (e *Emitter) atomicSwap(dir, hash string, body []byte) (deleted []string, err error) {
	target := filepath.Join(dir, hash+".json")

	existing, err := listJSONFiles(dir)
	if err != nil {
		return nil, err
	}

	if _, ok := existing[hash+".json"]; ok {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := writeFileAtomically(target, body); err != nil {
		return nil, err
	}

	for name := range existing {
		deleted = append(deleted, filepath.Join(dir, name))
	}
	sort.Strings(deleted)
	return deleted, nil
}

func listJSONFiles(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		out[entry.Name()] = struct{}{}
	}
	return out, nil
}

// writeFileAtomically writes to a temp file in the same directory, then
// renames it into place, so a concurrent reader of path never observes
// a partially-written file.
func writeFileAtomically(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}

func hashHex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
