package clients

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/sujalbistaa/trustdesk/internal/errs"
	"github.com/sujalbistaa/trustdesk/internal/logging"
	"github.com/sujalbistaa/trustdesk/internal/models"
)

// ContentClient reads reaction counts and post ownership from the content store.
type ContentClient struct {
	baseURL string
	getter  *jsonGetter
}

func NewContentClient(baseURL string, timeout time.Duration, httpClient *http.Client, log logging.Logger) *ContentClient {
	return &ContentClient{
		baseURL: baseURL,
		getter:  newJSONGetter(DefaultExecutorConfig("content", timeout), httpClient, log),
	}
}

func (c *ContentClient) configured(op string) error {
	if c.baseURL == "" {
		return errs.Unavailable(op, errors.New("CONTENT_SERVICE_URL not configured"))
	}
	return nil
}

// Reactions returns the current reaction counts of a post.
func (c *ContentClient) Reactions(ctx context.Context, postID string) (models.Reactions, error) {
	const op = "content.reactions"
	if err := c.configured(op); err != nil {
		return models.Reactions{}, err
	}
	var r models.Reactions
	err := c.getter.get(ctx, op, c.baseURL+"/posts/"+url.PathEscape(postID)+"/reactions", &r)
	if errors.Is(err, errNotFound) {
		return models.Reactions{}, errs.NotFound(op, "post %s", postID)
	}
	return r, err
}

// PostAuthor returns the author id of a post.
func (c *ContentClient) PostAuthor(ctx context.Context, postID string) (string, error) {
	const op = "content.post"
	if err := c.configured(op); err != nil {
		return "", err
	}
	var body struct {
		AuthorID string `json:"authorId"`
	}
	err := c.getter.get(ctx, op, c.baseURL+"/posts/"+url.PathEscape(postID), &body)
	if errors.Is(err, errNotFound) {
		return "", errs.NotFound(op, "post %s", postID)
	}
	if err != nil {
		return "", err
	}
	if body.AuthorID == "" {
		return "", errs.NotFound(op, "post %s has no author", postID)
	}
	return body.AuthorID, nil
}
