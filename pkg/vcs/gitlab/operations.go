package gitlab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// getProjectByPath resolves a GitLab project by its namespace/name path,
// using the GitLab v4 API's support for a URL-encoded path in place of a
// numeric project id: the caller already knows exactly which repository
// it wants.
func (c *client) getProjectByPath(ctx context.Context, path string) (*project, error) {
	endpoint := fmt.Sprintf("projects/%s", url.QueryEscape(path))
	pageList, err := c.executeAPIMethod(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if len(pageList) == 0 {
		return nil, errors.New("vcs/gitlab: no such project")
	}

	p := &project{}
	if err := json.Unmarshal(pageList[0], p); err != nil {
		return nil, err
	}
	return p, nil
}

// getTagList returns every tag of a project, across all pages.
func (c *client) getTagList(ctx context.Context, p *project) ([]*tag, error) {
	endpoint := fmt.Sprintf("projects/%d/repository/tags", p.ID)
	pageList, err := c.executeAPIMethod(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	tags := make([]*tag, 0)
	for _, body := range pageList {
		page := make([]*tag, 0)
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, err
		}
		tags = append(tags, page...)
	}
	return tags, nil
}

// getFile fetches one file's content at a ref, base64-decoded.
func (c *client) getFile(ctx context.Context, p *project, path, ref string) ([]byte, error) {
	endpoint := fmt.Sprintf(
		"projects/%d/repository/files/%s?ref=%s",
		p.ID,
		url.QueryEscape(path),
		url.QueryEscape(ref),
	)
	pageList, err := c.executeAPIMethod(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if len(pageList) == 0 {
		return nil, fmt.Errorf("vcs/gitlab: no such file %s at %s", path, ref)
	}

	f := &file{}
	if err := json.Unmarshal(pageList[0], f); err != nil {
		return nil, err
	}
	if f.Encoding != "base64" {
		return nil, fmt.Errorf("vcs/gitlab: unknown encoding %q for %s", f.Encoding, path)
	}

	return base64.StdEncoding.DecodeString(f.Content)
}
