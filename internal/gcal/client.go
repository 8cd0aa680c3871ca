// Package gcal is a minimal REST client for the Google Calendar API surface
// the booking engine needs: the freebusy query, event creation, and the OAuth
// token endpoint. Base URLs are injectable for tests.
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/werkhub/booking-engine/pkg/logging"
)

const (
	defaultTimeout = 20 * time.Second
	dateOnlyLayout = "2006-01-02"
)

var (
	// ErrUnavailable marks transient transport/parsing failures. Callers
	// degrade to internal-only data instead of failing.
	ErrUnavailable = errors.New("gcal: provider unavailable")

	// ErrTokenRevoked marks a definitive invalid-refresh-token response from
	// the token endpoint. Only this error may flip a connection into the
	// reauth-required state.
	ErrTokenRevoked = errors.New("gcal: refresh token revoked")
)

// Config holds the OAuth client settings and endpoint overrides.
type Config struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string // default https://www.googleapis.com
	TokenURL     string // default https://oauth2.googleapis.com/token
	Timeout      time.Duration
}

// Client talks to the calendar provider for one OAuth application.
type Client struct {
	apiBase    string
	tokenURL   string
	clientID   string
	secret     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a configured calendar client.
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = "https://www.googleapis.com"
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiBase:  strings.TrimRight(apiBase, "/"),
		tokenURL: tokenURL,
		clientID: cfg.ClientID,
		secret:   cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FreeBusy queries the busy periods of calendarID inside [windowStart,
// windowEnd). Date-only periods (all-day events) expand to the full calendar
// day in loc. Any transport, status or parsing failure maps to
// ErrUnavailable.
func (c *Client) FreeBusy(ctx context.Context, accessToken, calendarID string, windowStart, windowEnd time.Time, loc *time.Location) ([]BusyPeriod, error) {
	if loc == nil {
		loc = time.UTC
	}
	reqBody := freeBusyRequest{
		TimeMin:  windowStart.Format(time.RFC3339),
		TimeMax:  windowEnd.Format(time.RFC3339),
		TimeZone: loc.String(),
		Items:    []freeBusyItem{{ID: calendarID}},
	}

	var out freeBusyResponse
	if err := c.doJSON(ctx, http.MethodPost, c.apiBase+"/calendar/v3/freeBusy", accessToken, reqBody, &out); err != nil {
		return nil, err
	}

	cal, ok := out.Calendars[calendarID]
	if !ok {
		c.logger.Warn("freebusy response missing calendar", "calendar_id", calendarID)
		return nil, fmt.Errorf("%w: calendar %s absent from response", ErrUnavailable, calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, cal.Errors[0].Reason)
	}

	periods := make([]BusyPeriod, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		start, startOK := parsePeriodBound(b.Start, loc, false)
		end, endOK := parsePeriodBound(b.End, loc, true)
		if !startOK || !endOK {
			c.logger.Warn("dropping unparseable busy period", "start", b.Start, "end", b.End)
			continue
		}
		if !end.After(start) {
			continue
		}
		periods = append(periods, BusyPeriod{Start: start, End: end})
	}
	return periods, nil
}

// parsePeriodBound accepts RFC3339 datetimes and bare dates. A bare date is
// the midnight boundary of that day in loc; asEnd selects the following
// midnight so date-only events cover the whole day.
func parsePeriodBound(raw string, loc *time.Location, asEnd bool) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	day, err := time.ParseInLocation(dateOnlyLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	if asEnd {
		day = day.AddDate(0, 0, 1)
	}
	return day, true
}

// RefreshToken exchanges a refresh token for a fresh access token. A
// definitive invalid_grant answer returns ErrTokenRevoked; transport and
// server-side failures return ErrUnavailable so callers never treat a blip as
// a revocation.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.secret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("gcal: create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read refresh response: %v", ErrUnavailable, err)
	}

	var tok tokenResponse
	if resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(body, &tok)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && tok.Error == "invalid_grant" {
			c.logger.Warn("refresh token rejected by provider", "error", tok.Error, "description", tok.ErrorDesc)
			return nil, ErrTokenRevoked
		}
		c.logger.Error("token refresh failed", "status", resp.StatusCode, "body", truncate(string(body), 300))
		return nil, fmt.Errorf("%w: token refresh status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("%w: parse token response: %v", ErrUnavailable, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response without access_token", ErrUnavailable)
	}

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// ExchangeCode trades an authorization code for the initial token pair during
// the connect handshake.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.secret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("gcal: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read token response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("code exchange failed", "status", resp.StatusCode, "body", truncate(string(body), 300))
		return nil, fmt.Errorf("gcal: code exchange status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("gcal: parse token response: %w", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, fmt.Errorf("gcal: code exchange returned incomplete token pair")
	}

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// AuthorizationURL builds the consent URL the scope owner is redirected to.
// state carries the scope key so the callback can attribute the connection.
func (c *Client) AuthorizationURL(redirectURI, state string) string {
	params := url.Values{
		"client_id":     {c.clientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {"https://www.googleapis.com/auth/calendar"},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
		"state":         {state},
	}
	return "https://accounts.google.com/o/oauth2/v2/auth?" + params.Encode()
}

// InsertEvent creates an event on the given calendar and returns its id.
func (c *Client) InsertEvent(ctx context.Context, accessToken, calendarID string, ev Event) (string, error) {
	tz := ev.Start.Location().String()
	reqBody := insertEventRequest{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       eventTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: tz},
		End:         eventTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: tz},
	}
	for _, email := range ev.Attendees {
		reqBody.Attendees = append(reqBody.Attendees, eventAttendee{Email: email})
	}

	endpoint := fmt.Sprintf("%s/calendar/v3/calendars/%s/events", c.apiBase, url.PathEscape(calendarID))
	var out insertEventResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint, accessToken, reqBody, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: event insert returned empty id", ErrUnavailable)
	}
	return out.ID, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint, accessToken string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("gcal: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gcal: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("calendar api call failed", "endpoint", endpoint, "status", resp.StatusCode, "body", truncate(string(respBody), 300))
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", ErrUnavailable, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
