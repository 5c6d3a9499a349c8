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

// IdentityClient looks up author profiles. Profiles are cached per user.
type IdentityClient struct {
	baseURL string
	getter  *jsonGetter
	cache   *ttlCache[models.AuthorProfile]
}

type IdentityOptions struct {
	BaseURL    string
	Timeout    time.Duration
	CacheTTL   time.Duration
	MaxEntries int
	HTTPClient *http.Client
	Hooks      CacheHooks
}

func NewIdentityClient(opts IdentityOptions, log logging.Logger) *IdentityClient {
	if opts.MaxEntries == 0 {
		opts.MaxEntries = 10000
	}
	return &IdentityClient{
		baseURL: opts.BaseURL,
		getter:  newJSONGetter(DefaultExecutorConfig("identity", opts.Timeout), opts.HTTPClient, log),
		cache:   newTTLCache[models.AuthorProfile](opts.CacheTTL, opts.MaxEntries, opts.Hooks),
	}
}

type profileResponse struct {
	UserID           string    `json:"userId"`
	Verified         bool      `json:"verified"`
	AccountCreatedAt time.Time `json:"accountCreatedAt"`
	PostCount        int       `json:"postCount"`
}

// Profile returns the author profile of userID. An unknown user is NotFound;
// an unset or failing service is DependencyUnavailable.
func (c *IdentityClient) Profile(ctx context.Context, userID string) (models.AuthorProfile, error) {
	const op = "identity.profile"
	if c.baseURL == "" {
		return models.AuthorProfile{}, errs.Unavailable(op, errors.New("IDENTITY_SERVICE_URL not configured"))
	}
	return c.cache.Get(ctx, userID, func(ctx context.Context) (models.AuthorProfile, error) {
		var body profileResponse
		err := c.getter.get(ctx, op, c.baseURL+"/users/"+url.PathEscape(userID)+"/profile", &body)
		if errors.Is(err, errNotFound) {
			return models.AuthorProfile{}, errs.NotFound(op, "user %s", userID)
		}
		if err != nil {
			return models.AuthorProfile{}, err
		}
		return models.AuthorProfile{
			UserID:           userID,
			Verified:         body.Verified,
			AccountCreatedAt: body.AccountCreatedAt,
			PostCount:        body.PostCount,
		}, nil
	})
}

// Invalidate drops a cached profile.
func (c *IdentityClient) Invalidate(userID string) {
	c.cache.Delete(userID)
}
