package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/resty.v1"
)

// client is a thin GitLab REST client: it sniffs the API version once
// at construction and paginates list endpoints by header, serving one
// Adapter instance per repository.
type client struct {
	hasV4Support bool
	hasV3Support bool
	endpoint     string
	token        string
	apiPrefix    string
}

var (
	errInvalidToken    = errors.New("vcs/gitlab: invalid token")
	errInvalidEndpoint = errors.New("vcs/gitlab: invalid endpoint")
)

// pageFetchConcurrency bounds how many pages of a paginated list
// endpoint are fetched at once.
const pageFetchConcurrency = 4

func newClient(ctx context.Context, endpoint, token string) (*client, error) {
	c := &client{endpoint: endpoint, token: token}
	if err := c.guessAPIVersion(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// guessAPIVersion probes v4 then v3 with a HEAD request.
func (c *client) guessAPIVersion(ctx context.Context) error {
	resp, _ := c.executeHead(ctx, "/api/v4/user")
	if resp != nil && resp.StatusCode() == http.StatusUnauthorized {
		return errInvalidToken
	}
	if resp != nil && resp.StatusCode() == http.StatusOK {
		c.hasV4Support = true
		c.apiPrefix = "/api/v4"
		return nil
	}

	resp, _ = c.executeHead(ctx, "/api/v3/user")
	if resp != nil && resp.StatusCode() == http.StatusUnauthorized {
		return errInvalidToken
	}
	if resp != nil && resp.StatusCode() == http.StatusOK {
		c.hasV3Support = true
		c.apiPrefix = "/api/v3"
		return nil
	}

	return errInvalidEndpoint
}

// executeAPIMethod performs the initial request, discovers pagination via
// the X-Total-Pages/X-Next-Page headers, and fetches the remaining pages
// concurrently through an errgroup bounded to pageFetchConcurrency. The
// group is tied to ctx, so a canceled context stops outstanding fetches
// from being started and Wait returns ctx.Err() promptly.
func (c *client) executeAPIMethod(ctx context.Context, baseRequestURI string) ([][]byte, error) {
	baseRequestURI = strings.TrimLeft(baseRequestURI, "/")
	baseRequestURI = fmt.Sprintf("%s/%s", c.apiPrefix, baseRequestURI)
	const perPage = 30

	addArg := "?"
	if strings.Contains(baseRequestURI, "?") {
		addArg = "&"
	}

	reqURI := fmt.Sprintf("%s%sper_page=%d", baseRequestURI, addArg, perPage)
	resp, err := c.executeGet(ctx, reqURI)
	if err != nil {
		return nil, err
	}

	pages := [][]byte{resp.Body()}
	totalPagesRaw := resp.Header().Get("X-Total-Pages")
	nextPageRaw := resp.Header().Get("X-Next-Page")

	if nextPageRaw == "" {
		return pages, nil
	}

	nextPage, err := strconv.Atoi(nextPageRaw)
	if err != nil {
		return nil, err
	}

	totalPages, err := strconv.Atoi(totalPagesRaw)
	if err != nil {
		return nil, err
	}

	rest := make([][]byte, totalPages-nextPage+1)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(pageFetchConcurrency)

	for page := nextPage; page <= totalPages; page++ {
		slot := page - nextPage
		group.Go(func() error {
			reqURI := fmt.Sprintf("%s%sper_page=%d&page=%d", baseRequestURI, addArg, perPage, page)
			resp, err := c.executeGet(groupCtx, reqURI)
			if err != nil {
				return err
			}
			rest[slot] = resp.Body()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("vcs/gitlab: fetch remaining pages: %w", err)
	}

	return append(pages, rest...), nil
}

func (c *client) executeHead(ctx context.Context, requestURI string) (*resty.Response, error) {
	requestURI = strings.TrimLeft(requestURI, "/")
	requestURL := fmt.Sprintf("%s/%s", c.endpoint, requestURI)
	return resty.R().SetHeader("PRIVATE-TOKEN", c.token).Head(requestURL)
}

func (c *client) executeGet(ctx context.Context, requestURI string) (*resty.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	requestURI = strings.TrimLeft(requestURI, "/")
	requestURL := fmt.Sprintf("%s/%s", c.endpoint, requestURI)
	return resty.R().SetHeader("PRIVATE-TOKEN", c.token).Get(requestURL)
}
