package notify

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// newHTTPClient returns a JSON client that retries transport errors and 5xx
// responses.
func newHTTPClient(baseURL string) *resty.Client {
	c := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	if baseURL != "" {
		c.SetBaseURL(baseURL)
	}
	return c
}

func truncate(s string) string {
	const limit = 512
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
