// Package upstream is a plain request/response client against the three
// upstream endpoints this system depends on but does not own: auth,
// rate-limit contract, and token-count statistics (§6). Everything else
// about the upstream — credential acquisition policy, the worker's own
// API call — is explicitly out of scope (§1).
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/policy"
)

// DefaultRootURL is the production Sentinel Hub root URL, used when
// SENTINELHUB_ROOT_URL is unset (§6).
const DefaultRootURL = "https://services.sentinel-hub.com"

// DefaultExpiryMarginS is how far ahead of expiry a token is considered
// "soon to expire" (§4.2).
const DefaultExpiryMarginS = 300

var policyTypeShortNames = map[string]policy.Type{
	"PROCESSING_UNITS": policy.TypeProcessingUnits,
	"REQUESTS":         policy.TypeRequests,
}

var policyTypeFullNames = map[policy.Type]string{
	policy.TypeProcessingUnits: "PROCESSING_UNITS",
	policy.TypeRequests:        "REQUESTS",
}

// Client talks to the upstream auth, contract, and statistics endpoints.
type Client struct {
	HTTPClient   *http.Client
	RootURL      string
	ClientID     string
	ClientSecret string
}

// NewClient constructs a Client using http.DefaultClient's default network
// timeouts, per §5 ("HTTP calls to upstream use the default network
// timeouts of the chosen HTTP client").
func NewClient(rootURL, clientID, clientSecret string) *Client {
	if rootURL == "" {
		rootURL = DefaultRootURL
	}
	return &Client{
		HTTPClient:   http.DefaultClient,
		RootURL:      rootURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
}

// RequestAuthToken performs the client-credentials grant against
// POST /oauth/token.
func (c *Client) RequestAuthToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RootURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("upstream: build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream: request auth token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("upstream: auth token request failed with status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("upstream: decode auth token response: %w", err)
	}
	return body.AccessToken, nil
}

// WillAuthTokenSoonExpire reports whether the token's exp claim is within
// expMarginS of now.
func (c *Client) WillAuthTokenSoonExpire(accessToken string, expMarginS int64) (bool, error) {
	exp, err := ExtractExpirationTime(accessToken)
	if err != nil {
		return false, err
	}
	return exp <= time.Now().Unix()+expMarginS, nil
}

type contractResponse struct {
	Data []struct {
		Policies []struct {
			Capacity            int64  `json:"capacity"`
			SamplingPeriod      string `json:"samplingPeriod"`
			NanosBetweenRefills int64  `json:"nanosBetweenRefills"`
		} `json:"policies"`
		Type struct {
			Name string `json:"name"`
		} `json:"type"`
	} `json:"data"`
}

type statsResponse struct {
	Data map[string]map[string]float64 `json:"data"`
}

// FetchCurrentStats fetches GET /aux/ratelimit/statistics/tokenCounts/<userID>.
func (c *Client) FetchCurrentStats(ctx context.Context, accessToken, userID string) (map[string]map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RootURL+"/aux/ratelimit/statistics/tokenCounts/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build stats request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: fetch statistics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream: statistics request failed with status %d", resp.StatusCode)
	}

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("upstream: decode statistics response: %w", err)
	}
	return body.Data, nil
}

// FetchRateLimits combines GET /aux/ratelimit/contract and the statistics
// endpoint into the full set of Policy values for this user, mirroring
// fetch_rate_limits in the reference syncer.
func (c *Client) FetchRateLimits(ctx context.Context, userID, accessToken string) ([]policy.Policy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RootURL+"/aux/ratelimit/contract", nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build contract request: %w", err)
	}
	q := req.URL.Query()
	q.Set("userId", "eq:"+userID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: fetch contract: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream: contract request failed with status %d", resp.StatusCode)
	}

	var contracts contractResponse
	if err := json.NewDecoder(resp.Body).Decode(&contracts); err != nil {
		return nil, fmt.Errorf("upstream: decode contract response: %w", err)
	}

	stats, err := c.FetchCurrentStats(ctx, accessToken, userID)
	if err != nil {
		return nil, err
	}

	var out []policy.Policy
	for _, contract := range contracts.Data {
		policyTypeLong := contract.Type.Name
		policyType, ok := policyTypeShortNames[policyTypeLong]
		if !ok {
			return nil, fmt.Errorf("upstream: unknown policy type %q", policyTypeLong)
		}
		for _, p := range contract.Policies {
			remaining := stats[policyTypeLong][p.SamplingPeriod]
			out = append(out, policy.New(policyType, p.Capacity, remaining, p.NanosBetweenRefills, p.SamplingPeriod))
		}
	}
	return out, nil
}

// FullPolicyTypeName maps a short policy type back to its upstream name,
// used when re-deriving incr_by during a statistics refresh.
func FullPolicyTypeName(t policy.Type) string {
	return policyTypeFullNames[t]
}
