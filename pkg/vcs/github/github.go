// Package github implements vcs.Adapter against the GitHub REST API via
// google/go-github. The adapter factory picks one fallback token at
// random for each adapter it builds, and that adapter uses it for all of
// its requests.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v39/github"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/oauth2"

	"github.com/craftreg/registry/pkg/model"
	"github.com/craftreg/registry/pkg/semverops"
	"github.com/craftreg/registry/pkg/vcs"
)

const manifestFile = "composer.json"

// Factory builds Adapters for repositories hosted on github.com (or a
// GitHub Enterprise base URL), rotating across a pool of fallback tokens
// when a package has no adapter-specific credential of its own.
type Factory struct {
	fallbackTokens []string
	cache          *lru.Cache // composer.json body cache, (owner/repo@sha) -> []byte
}

// NewFactory builds a Factory. fallbackTokens are rotated randomly for
// packages with no dedicated credential.
func NewFactory(fallbackTokens []string) (*Factory, error) {
	cache, err := lru.New(1024)
	if err != nil {
		return nil, err
	}
	return &Factory{fallbackTokens: fallbackTokens, cache: cache}, nil
}

func (f *Factory) AdapterFor(ctx context.Context, pkg *model.Package) (vcs.Adapter, error) {
	owner, repo, err := parseOwnerRepo(pkg.Repository)
	if err != nil {
		return nil, err
	}

	token := f.tokenFor(pkg.Repository)
	httpClient := http.DefaultClient
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	return &Adapter{
		client: github.NewClient(httpClient),
		owner:  owner,
		repo:   repo,
		cache:  f.cache,
	}, nil
}

// TokenFor implements vcs.TokenSource: only fallback tokens exist here,
// registered per-repository credentials are a deployment-specific
// TokenSource that would be composed ahead of this one.
func (f *Factory) TokenFor(repository string) (string, bool) {
	if len(f.fallbackTokens) == 0 {
		return "", false
	}
	return f.fallbackTokens[rand.Intn(len(f.fallbackTokens))], true
}

func (f *Factory) tokenFor(repository string) string {
	token, _ := f.TokenFor(repository)
	return token
}

func parseOwnerRepo(repository string) (owner, repo string, err error) {
	u, err := url.Parse(repository)
	if err != nil {
		return "", "", fmt.Errorf("vcs/github: invalid repository url %q: %w", repository, err)
	}

	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("vcs/github: cannot extract owner/repo from %q", repository)
	}
	return parts[0], parts[1], nil
}

// Adapter is a vcs.Adapter for a single GitHub repository.
type Adapter struct {
	client *github.Client
	owner  string
	repo   string
	cache  *lru.Cache
}

func (a *Adapter) Versions(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)

	opts := &github.ListOptions{PerPage: 100}
	for {
		tags, resp, err := a.client.Repositories.ListTags(ctx, a.owner, a.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: list tags for %s/%s: %v", vcs.ErrTransient, a.owner, a.repo, err)
		}

		for _, t := range tags {
			if t.Name == nil || t.Commit == nil || t.Commit.SHA == nil {
				continue
			}
			out[*t.Name] = *t.Commit.SHA
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
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
	cacheKey := fmt.Sprintf("%s/%s@%s", a.owner, a.repo, sha)
	if body, ok := a.cache.Get(cacheKey); ok {
		var m vcs.ComposerManifest
		if err := json.Unmarshal(body.([]byte), &m); err != nil {
			return vcs.ComposerManifest{}, err
		}
		return m, nil
	}

	content, _, resp, err := a.client.Repositories.GetContents(ctx, a.owner, a.repo, manifestFile, &github.RepositoryContentGetOptions{Ref: sha})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return vcs.ComposerManifest{}, fmt.Errorf("vcs/github: %s missing at %s", manifestFile, sha)
		}
		return vcs.ComposerManifest{}, fmt.Errorf("%w: fetch %s at %s: %v", vcs.ErrTransient, manifestFile, sha, err)
	}

	raw, err := decodeContent(content)
	if err != nil {
		return vcs.ComposerManifest{}, err
	}

	a.cache.Add(cacheKey, raw)

	var m vcs.ComposerManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return vcs.ComposerManifest{}, fmt.Errorf("vcs/github: decode %s: %w", manifestFile, err)
	}
	return m, nil
}

func decodeContent(content *github.RepositoryContent) ([]byte, error) {
	if content.GetEncoding() == "base64" {
		return base64.StdEncoding.DecodeString(strings.ReplaceAll(content.GetContent(), "\n", ""))
	}
	return []byte(content.GetContent()), nil
}
