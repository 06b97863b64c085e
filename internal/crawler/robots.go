package crawler

import (
	"io"
	"net/http"
	"net/url"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// robotsCache fetches and caches one robots policy per origin. A failed fetch
// is cached as "allow everything" so the origin is not hit again.
type robotsCache struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
	policies  map[string]*robotstxt.RobotsData // nil value = fail-open origin
}

func newRobotsCache(client *http.Client, userAgent string, logger *zap.Logger) *robotsCache {
	return &robotsCache{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		policies:  map[string]*robotstxt.RobotsData{},
	}
}

// allowed reports whether the crawler's user agent may fetch the URL.
func (rc *robotsCache) allowed(u *url.URL) bool {
	origin := u.Scheme + "://" + u.Host
	policy, cached := rc.policies[origin]
	if !cached {
		policy = rc.fetch(origin)
		rc.policies[origin] = policy
	}
	if policy == nil {
		return true
	}
	return policy.TestAgent(u.RequestURI(), rc.userAgent)
}

func (rc *robotsCache) fetch(origin string) *robotstxt.RobotsData {
	req, err := http.NewRequest(http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		rc.logger.Warn("robots fetch failed, allowing origin",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rc.logger.Warn("robots read failed, allowing origin",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}

	policy, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		rc.logger.Warn("robots parse failed, allowing origin",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	return policy
}
