package hiscores

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cpbr-dev/Clog-Bot/metrics"
	"github.com/cpbr-dev/Clog-Bot/models"
	"golang.org/x/time/rate"
)

const (
	DefaultLookupURL = "https://secure.runescape.com/m=hiscore_oldschool/index_lite.json"

	collectionLogActivity   = "Collections Logged"
	collectionLogActivityID = 18
	maxBodyBytes            = 1 << 20
)

// Options configures the lookup client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// Client fetches collection log totals from the OSRS hiscore JSON endpoint.
type Client struct {
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
	now        func() time.Time
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultLookupURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    opts.BaseURL,
		timeout:    opts.Timeout,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		httpClient: httpClient,
		now:        time.Now,
	}
}

type hiscoreResponse struct {
	Activities []hiscoreActivity `json:"activities"`
}

type hiscoreActivity struct {
	ID    *int   `json:"id"`
	Name  string `json:"name"`
	Rank  int    `json:"rank"`
	Score *int   `json:"score"`
}

// Fetch returns a Fresh ScoreRecord for the account or one of the classified errors.
// It has no side effects beyond the outbound request.
func (c *Client) Fetch(ctx context.Context, accountName string) (models.ScoreRecord, error) {
	rec, err := c.fetch(ctx, accountName)
	metrics.FetchResults.WithLabelValues(Reason(err)).Inc()
	return rec, err
}

func (c *Client) fetch(ctx context.Context, accountName string) (models.ScoreRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.ScoreRecord{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	lookupURL, err := c.lookupURL(accountName)
	if err != nil {
		return models.ScoreRecord{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return models.ScoreRecord{}, fmt.Errorf("hiscores: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// таймаут тоже сюда: считаем сервис недоступным
		return models.ScoreRecord{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return models.ScoreRecord{}, fmt.Errorf("%w: %s", ErrNotFound, accountName)
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.ScoreRecord{}, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now())}
	default:
		return models.ScoreRecord{}, fmt.Errorf("%w: unexpected status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.ScoreRecord{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return c.parse(accountName, body)
}

func (c *Client) lookupURL(accountName string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("hiscores: invalid lookup url %q: %w", c.baseURL, err)
	}
	q := u.Query()
	q.Set("player", accountName)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) parse(accountName string, body []byte) (models.ScoreRecord, error) {
	var payload hiscoreResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.ScoreRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	activity, ok := findCollectionLog(payload.Activities)
	if !ok {
		return models.ScoreRecord{}, fmt.Errorf("%w: no %q activity", ErrMalformed, collectionLogActivity)
	}
	if activity.Score == nil || *activity.Score < -1 {
		return models.ScoreRecord{}, fmt.Errorf("%w: invalid collection log score", ErrMalformed)
	}

	observedAt := c.now().UTC()
	rec := models.ScoreRecord{
		AccountName: accountName,
		Total:       *activity.Score,
		HiscoreRank: activity.Rank,
		ObservedAt:  &observedAt,
		Status:      models.ScoreFresh,
	}
	// -1 значит меньше 500 предметов: hiscores его не показывают
	if *activity.Score == -1 {
		rec.Total = 0
		rec.HiscoreRank = -1
		rec.BelowThreshold = true
	}
	return rec, nil
}

func findCollectionLog(activities []hiscoreActivity) (hiscoreActivity, bool) {
	for _, a := range activities {
		if strings.EqualFold(a.Name, collectionLogActivity) {
			return a, true
		}
	}
	for _, a := range activities {
		if a.Name == "" && a.ID != nil && *a.ID == collectionLogActivityID {
			return a, true
		}
	}
	return hiscoreActivity{}, false
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
