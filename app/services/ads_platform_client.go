package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/evoteli/config"
	"github.com/amirphl/evoteli/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ads platform error classes. Callers persist the wrapped message and retry on a later attempt.
var (
	ErrPlatformUnavailable = errors.New("ads platform unavailable")
	ErrRateLimited         = errors.New("ads platform rate limited")
	ErrPlatformRejected    = errors.New("ads platform rejected request")
)

var (
	adsPlatformRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "ads_platform_requests_total",
			Help:      "Total number of ads platform calls partitioned by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	adsPlatformRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "ads_platform_request_duration_seconds",
			Help:      "Ads platform call latencies in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// AdsCredentials are the plain OAuth tokens used for one remote call
type AdsCredentials struct {
	AccessToken     string
	RefreshToken    string
	LoginCustomerID string
}

type AdsAccountInfo struct {
	CustomerID   string
	Name         string
	CurrencyCode string
	TimeZone     string
}

// RemoteList identifies a customer match user list on the platform
type RemoteList struct {
	ResourceName string
	ListID       string
}

type HashedAddress struct {
	HashedFirstName string
	HashedLastName  string
	CountryCode     string
	PostalCode      string
}

// HashedContact carries only SHA-256 digests of normalized identifiers
type HashedContact struct {
	HashedEmail string
	HashedPhone string
	Address     *HashedAddress
}

type UploadResult struct {
	Uploaded        int
	JobResourceName string
}

type ListStats struct {
	Size             int64
	MatchRatePercent *float64
}

type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AdsPlatformClient is the boundary to the remote advertising platform
type AdsPlatformClient interface {
	FetchAccountInfo(ctx context.Context, customerID string, creds AdsCredentials) (*AdsAccountInfo, error)
	CreateRemoteList(ctx context.Context, customerID string, creds AdsCredentials, name, description string) (*RemoteList, error)
	UploadHashedContacts(ctx context.Context, customerID string, creds AdsCredentials, resourceName string, batch []HashedContact) (*UploadResult, error)
	PollListStats(ctx context.Context, customerID string, creds AdsCredentials, resourceName string) (*ListStats, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*TokenGrant, error)
}

// NewAdsPlatformClient returns the mock when configured, the REST client otherwise
func NewAdsPlatformClient(cfg config.GoogleAdsConfig) AdsPlatformClient {
	if cfg.UseMock {
		return NewMockAdsPlatformClient()
	}
	return NewGoogleAdsClient(cfg)
}

// GoogleAdsClient talks to the Google Ads REST interface and the OAuth token endpoint
type GoogleAdsClient struct {
	cfg        config.GoogleAdsConfig
	baseURL    string
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewGoogleAdsClient(cfg config.GoogleAdsConfig) *GoogleAdsClient {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.MembershipLifespan <= 0 {
		cfg.MembershipLifespan = 10000
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v17"
	}
	return &GoogleAdsClient{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/") + "/" + cfg.APIVersion,
		httpClient: &http.Client{},
		sleep:      sleepCtx,
	}
}

// ----- account -----

type searchRequest struct {
	Query string `json:"query"`
}

type customerRow struct {
	Customer struct {
		ID              json.Number `json:"id"`
		DescriptiveName string      `json:"descriptiveName"`
		CurrencyCode    string      `json:"currencyCode"`
		TimeZone        string      `json:"timeZone"`
	} `json:"customer"`
}

func (c *GoogleAdsClient) FetchAccountInfo(ctx context.Context, customerID string, creds AdsCredentials) (*AdsAccountInfo, error) {
	cid := NormalizeCustomerID(customerID)
	query := fmt.Sprintf("SELECT customer.id, customer.descriptive_name, customer.currency_code, customer.time_zone FROM customer WHERE customer.id = %s", cid)

	var resp struct {
		Results []customerRow `json:"results"`
	}
	path := fmt.Sprintf("/customers/%s/googleAds:search", cid)
	if err := c.call(ctx, "fetch_account_info", creds, path, searchRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: customer %s not found", ErrPlatformRejected, cid)
	}
	row := resp.Results[0].Customer
	return &AdsAccountInfo{
		CustomerID:   cid,
		Name:         row.DescriptiveName,
		CurrencyCode: row.CurrencyCode,
		TimeZone:     row.TimeZone,
	}, nil
}

// ----- user lists -----

type userListCreate struct {
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	MembershipStatus   string `json:"membershipStatus"`
	MembershipLifeSpan string `json:"membershipLifeSpan"`
	CrmBasedUserList   struct {
		UploadKeyType string `json:"uploadKeyType"`
	} `json:"crmBasedUserList"`
}

type mutateResponse struct {
	Results []struct {
		ResourceName string `json:"resourceName"`
	} `json:"results"`
}

func (c *GoogleAdsClient) CreateRemoteList(ctx context.Context, customerID string, creds AdsCredentials, name, description string) (*RemoteList, error) {
	cid := NormalizeCustomerID(customerID)
	create := userListCreate{
		Name:               name,
		Description:        description,
		MembershipStatus:   "OPEN",
		MembershipLifeSpan: strconv.Itoa(c.cfg.MembershipLifespan),
	}
	create.CrmBasedUserList.UploadKeyType = "CONTACT_INFO"

	body := map[string]any{
		"operations": []map[string]any{{"create": create}},
	}
	var resp mutateResponse
	if err := c.call(ctx, "create_remote_list", creds, fmt.Sprintf("/customers/%s/userLists:mutate", cid), body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 || resp.Results[0].ResourceName == "" {
		return nil, fmt.Errorf("%w: empty user list mutate response", ErrPlatformRejected)
	}
	rn := resp.Results[0].ResourceName
	return &RemoteList{ResourceName: rn, ListID: lastPathSegment(rn)}, nil
}

// ----- offline user data jobs -----

type userIdentifier struct {
	HashedEmail       string       `json:"hashedEmail,omitempty"`
	HashedPhoneNumber string       `json:"hashedPhoneNumber,omitempty"`
	AddressInfo       *addressInfo `json:"addressInfo,omitempty"`
}

type addressInfo struct {
	HashedFirstName string `json:"hashedFirstName,omitempty"`
	HashedLastName  string `json:"hashedLastName,omitempty"`
	CountryCode     string `json:"countryCode,omitempty"`
	PostalCode      string `json:"postalCode,omitempty"`
}

type userDataOperation struct {
	Create struct {
		UserIdentifiers []userIdentifier `json:"userIdentifiers"`
	} `json:"create"`
}

type addOperationsResponse struct {
	PartialFailureError *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"partialFailureError"`
}

// UploadHashedContacts sends one batch through a dedicated offline user data job:
// create job, add operations with partial failure enabled, run.
func (c *GoogleAdsClient) UploadHashedContacts(ctx context.Context, customerID string, creds AdsCredentials, resourceName string, batch []HashedContact) (*UploadResult, error) {
	cid := NormalizeCustomerID(customerID)
	ops := make([]userDataOperation, 0, len(batch))
	for _, hc := range batch {
		ids := identifiersFor(hc)
		if len(ids) == 0 {
			continue
		}
		var op userDataOperation
		op.Create.UserIdentifiers = ids
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return &UploadResult{}, nil
	}

	jobBody := map[string]any{
		"job": map[string]any{
			"type": "CUSTOMER_MATCH_USER_LIST",
			"customerMatchUserListMetadata": map[string]any{
				"userList": resourceName,
			},
		},
	}
	var job struct {
		ResourceName string `json:"resourceName"`
	}
	if err := c.call(ctx, "create_upload_job", creds, fmt.Sprintf("/customers/%s/offlineUserDataJobs:create", cid), jobBody, &job); err != nil {
		return nil, err
	}
	if job.ResourceName == "" {
		return nil, fmt.Errorf("%w: empty offline user data job", ErrPlatformRejected)
	}

	var added addOperationsResponse
	addBody := map[string]any{
		"enablePartialFailure": true,
		"operations":           ops,
	}
	if err := c.call(ctx, "add_upload_operations", creds, "/"+job.ResourceName+":addOperations", addBody, &added); err != nil {
		return nil, err
	}

	if err := c.call(ctx, "run_upload_job", creds, "/"+job.ResourceName+":run", map[string]any{}, nil); err != nil {
		return nil, err
	}

	return &UploadResult{Uploaded: len(ops), JobResourceName: job.ResourceName}, nil
}

func identifiersFor(hc HashedContact) []userIdentifier {
	var ids []userIdentifier
	if hc.HashedEmail != "" {
		ids = append(ids, userIdentifier{HashedEmail: hc.HashedEmail})
	}
	if hc.HashedPhone != "" {
		ids = append(ids, userIdentifier{HashedPhoneNumber: hc.HashedPhone})
	}
	if a := hc.Address; a != nil && a.HashedFirstName != "" && a.HashedLastName != "" && a.PostalCode != "" {
		ids = append(ids, userIdentifier{AddressInfo: &addressInfo{
			HashedFirstName: a.HashedFirstName,
			HashedLastName:  a.HashedLastName,
			CountryCode:     a.CountryCode,
			PostalCode:      a.PostalCode,
		}})
	}
	return ids
}

// ----- stats -----

type userListRow struct {
	UserList struct {
		ID                  json.Number  `json:"id"`
		Name                string       `json:"name"`
		SizeForDisplay      json.Number  `json:"sizeForDisplay"`
		SizeForSearch       json.Number  `json:"sizeForSearch"`
		MatchRatePercentage *json.Number `json:"matchRatePercentage"`
	} `json:"userList"`
}

func (c *GoogleAdsClient) PollListStats(ctx context.Context, customerID string, creds AdsCredentials, resourceName string) (*ListStats, error) {
	cid := NormalizeCustomerID(customerID)
	query := fmt.Sprintf("SELECT user_list.id, user_list.name, user_list.size_for_display, user_list.size_for_search, user_list.match_rate_percentage FROM user_list WHERE user_list.resource_name = '%s'", resourceName)

	var resp struct {
		Results []userListRow `json:"results"`
	}
	if err := c.call(ctx, "poll_list_stats", creds, fmt.Sprintf("/customers/%s/googleAds:search", cid), searchRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: user list %s not found", ErrPlatformRejected, resourceName)
	}

	row := resp.Results[0].UserList
	stats := &ListStats{}
	if n, err := row.SizeForDisplay.Int64(); err == nil {
		stats.Size = n
	}
	if row.MatchRatePercentage != nil {
		if f, err := row.MatchRatePercentage.Float64(); err == nil {
			stats.MatchRatePercent = &f
		}
	}
	return stats, nil
}

// ----- oauth -----

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (c *GoogleAdsClient) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", c.cfg.Scope)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("state", state)
	return c.cfg.AuthURI + "?" + q.Encode()
}

func (c *GoogleAdsClient) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	return c.tokenRequest(ctx, "exchange_code", form)
}

func (c *GoogleAdsClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token missing", ErrPlatformRejected)
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	grant, err := c.tokenRequest(ctx, "refresh_token", form)
	if err != nil {
		return nil, err
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	return grant, nil
}

func (c *GoogleAdsClient) tokenRequest(ctx context.Context, op string, form url.Values) (*TokenGrant, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	encoded := form.Encode()

	var tr tokenResponse
	err := c.withRetry(ctx, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURI, strings.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.do(req, &tr)
	})
	if err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: token endpoint returned no access token: %s %s", ErrPlatformRejected, tr.Error, tr.ErrorDesc)
	}
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return &TokenGrant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    utils.UTCNowAdd(time.Duration(expiresIn) * time.Second),
	}, nil
}

// ----- transport -----

func (c *GoogleAdsClient) call(ctx context.Context, op string, creds AdsCredentials, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}
	return c.withRetry(ctx, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		req.Header.Set("developer-token", c.cfg.DeveloperToken)
		if creds.LoginCustomerID != "" {
			req.Header.Set("login-customer-id", NormalizeCustomerID(creds.LoginCustomerID))
		}
		return c.do(req, out)
	})
}

func (c *GoogleAdsClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// transport failures and per-call deadlines are both worth another attempt
		return fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrPlatformUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http status: %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: http status: %d", ErrPlatformUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: http status: %d: %s", ErrPlatformRejected, resp.StatusCode, platformErrorMessage(raw))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrPlatformRejected, err)
	}
	return nil
}

// withRetry runs fn with a per-attempt timeout and retries rate limits and outages
// with exponential backoff.
func (c *GoogleAdsClient) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		adsPlatformRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var err error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay << (attempt - 1)
			if serr := c.sleep(ctx, delay); serr != nil {
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		err = fn(callCtx)
		cancel()

		if err == nil {
			adsPlatformRequestsTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	adsPlatformRequestsTotal.WithLabelValues(op, outcomeLabel(err)).Inc()
	return fmt.Errorf("%s: %w", op, err)
}

func retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrPlatformUnavailable)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrPlatformUnavailable):
		return "unavailable"
	case errors.Is(err, ErrPlatformRejected):
		return "rejected"
	default:
		return "error"
	}
}

func platformErrorMessage(raw []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(raw, &env) == nil {
		if env.Error.Message != "" {
			return env.Error.Message
		}
		if env.ErrorDescription != "" {
			return env.ErrorDescription
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NormalizeCustomerID strips the dashes of the displayed 123-456-7890 form
func NormalizeCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "-", "")
}

func lastPathSegment(resourceName string) string {
	if i := strings.LastIndex(resourceName, "/"); i >= 0 {
		return resourceName[i+1:]
	}
	return resourceName
}
