// Package gitlab implements vcs.Adapter for repositories hosted on a
// GitLab instance: list one repository's tags and read composer.json
// at each tag's commit.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/semverops"
	"github.com/craftreg/registry/pkg/vcs"
)

const manifestFile = "composer.json"

// Factory builds Adapters against a single GitLab endpoint (self-hosted
// or gitlab.com), resolving one token per package via tokens.
type Factory struct {
	endpoint string
	tokens   vcs.TokenSource
	cache    *lru.Cache
}

// NewFactory builds a Factory bound to the given GitLab API endpoint
// (e.g. "https://gitlab.com").
func NewFactory(endpoint string, tokens vcs.TokenSource) (*Factory, error) {
	cache, err := lru.New(1024)
	if err != nil {
		return nil, err
	}
	return &Factory{endpoint: strings.TrimRight(endpoint, "/"), tokens: tokens, cache: cache}, nil
}

func (f *Factory) AdapterFor(ctx context.Context, pkg *model.Package) (vcs.Adapter, error) {
	path, err := projectPath(pkg.Repository)
	if err != nil {
		return nil, err
	}

	token, _ := f.tokens.TokenFor(pkg.Repository)

	c, err := newClient(ctx, f.endpoint, token)
	if err != nil {
		return nil, fmt.Errorf("vcs/gitlab: %w", err)
	}

	proj, err := c.getProjectByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve project %s: %v", vcs.ErrTransient, path, err)
	}

	return &Adapter{client: c, project: proj, cache: f.cache}, nil
}

// projectPath extracts "namespace/name" from a repository URL, the way
// parseOwnerRepo does for GitHub.
func projectPath(repository string) (string, error) {
	u, err := url.Parse(repository)
	if err != nil {
		return "", fmt.Errorf("vcs/gitlab: invalid repository url %q: %w", repository, err)
	}
	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	if path == "" {
		return "", fmt.Errorf("vcs/gitlab: cannot extract project path from %q", repository)
	}
	return path, nil
}

// Adapter is a vcs.Adapter for a single GitLab project.
type Adapter struct {
	client  *client
	project *project
	cache   *lru.Cache
}

func (a *Adapter) Versions(ctx context.Context) (map[string]string, error) {
	tags, err := a.client.getTagList(ctx, a.project)
	if err != nil {
		return nil, fmt.Errorf("%w: list tags for %s: %v", vcs.ErrTransient, a.project.PathWithNamespace, err)
	}

	out := make(map[string]string, len(tags))
	for _, t := range tags {
		if t.Name == "" || t.Commit.ID == "" {
			continue
		}
		out[t.Name] = t.Commit.ID
	}
	return out, nil
}

func (a *Adapter) PopulateRelease(ctx context.Context, release *model.PackageVersion) error {
	normalized, err := semverops.Normalize(release.Version)
	if err != nil {
		return fmt.Errorf("%w: %s", vcs.ErrInvalidVersion, release.Version)
	}
	release.NormalizedVersion = normalized
	release.Stability = semverops.ParseStability(release.Version)

	manifest, err := a.fetchManifest(ctx, release.SHA)
	if err != nil {
		return err
	}

	return vcs.PopulateFromManifest(release, manifest)
}

func (a *Adapter) fetchManifest(ctx context.Context, sha string) (vcs.ComposerManifest, error) {
	cacheKey := fmt.Sprintf("%d@%s", a.project.ID, sha)
	if body, ok := a.cache.Get(cacheKey); ok {
		return decodeManifest(body.([]byte))
	}

	raw, err := a.client.getFile(ctx, a.project, manifestFile, sha)
	if err != nil {
		return vcs.ComposerManifest{}, fmt.Errorf("vcs/gitlab: fetch %s at %s: %w", manifestFile, sha, err)
	}

	a.cache.Add(cacheKey, raw)
	return decodeManifest(raw)
}

func decodeManifest(raw []byte) (vcs.ComposerManifest, error) {
	var m vcs.ComposerManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return vcs.ComposerManifest{}, fmt.Errorf("vcs/gitlab: decode %s: %w", manifestFile, err)
	}
	return m, nil
}
