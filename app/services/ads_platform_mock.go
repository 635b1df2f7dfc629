package services

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/amirphl/evoteli/utils"
)

// MockAdsPlatformClient keeps remote lists in memory. Errors set in Fail
// (keyed by operation name) are returned instead of calling through.
type MockAdsPlatformClient struct {
	mu sync.Mutex

	Fail      map[string]error
	MatchRate float64

	nextListID  int
	lists       map[string]int64
	Calls       map[string]int
	UploadSizes []int
}

func NewMockAdsPlatformClient() *MockAdsPlatformClient {
	return &MockAdsPlatformClient{
		Fail:       map[string]error{},
		MatchRate:  60,
		nextListID: 1000,
		lists:      map[string]int64{},
		Calls:      map[string]int{},
	}
}

func (m *MockAdsPlatformClient) enter(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[op]++
	return m.Fail[op]
}

// CallCount returns how many times op was invoked
func (m *MockAdsPlatformClient) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

func (m *MockAdsPlatformClient) FetchAccountInfo(_ context.Context, customerID string, _ AdsCredentials) (*AdsAccountInfo, error) {
	if err := m.enter("fetch_account_info"); err != nil {
		return nil, err
	}
	cid := NormalizeCustomerID(customerID)
	return &AdsAccountInfo{
		CustomerID:   cid,
		Name:         "Mock Account " + cid,
		CurrencyCode: "USD",
		TimeZone:     "America/New_York",
	}, nil
}

func (m *MockAdsPlatformClient) CreateRemoteList(_ context.Context, customerID string, _ AdsCredentials, name, _ string) (*RemoteList, error) {
	if err := m.enter("create_remote_list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextListID++
	rn := fmt.Sprintf("customers/%s/userLists/%d", NormalizeCustomerID(customerID), m.nextListID)
	m.lists[rn] = 0
	log.Printf("mock ads: created user list %q as %s", name, rn)
	return &RemoteList{ResourceName: rn, ListID: lastPathSegment(rn)}, nil
}

func (m *MockAdsPlatformClient) UploadHashedContacts(_ context.Context, _ string, _ AdsCredentials, resourceName string, batch []HashedContact) (*UploadResult, error) {
	if err := m.enter("upload_hashed_contacts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[resourceName] += int64(len(batch))
	m.UploadSizes = append(m.UploadSizes, len(batch))
	return &UploadResult{Uploaded: len(batch), JobResourceName: resourceName + "/jobs/mock"}, nil
}

func (m *MockAdsPlatformClient) PollListStats(_ context.Context, _ string, _ AdsCredentials, resourceName string) (*ListStats, error) {
	if err := m.enter("poll_list_stats"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	uploaded := m.lists[resourceName]
	rate := m.MatchRate
	return &ListStats{
		Size:             int64(float64(uploaded) * rate / 100),
		MatchRatePercent: &rate,
	}, nil
}

func (m *MockAdsPlatformClient) RefreshToken(_ context.Context, refreshToken string) (*TokenGrant, error) {
	if err := m.enter("refresh_token"); err != nil {
		return nil, err
	}
	return &TokenGrant{
		AccessToken:  "mock-access-" + utils.UTCNow().Format("20060102150405"),
		RefreshToken: refreshToken,
		ExpiresAt:    utils.UTCNowAdd(time.Hour),
	}, nil
}

func (m *MockAdsPlatformClient) AuthorizationURL(state string) string {
	return "https://accounts.example.invalid/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (m *MockAdsPlatformClient) ExchangeCode(_ context.Context, code string) (*TokenGrant, error) {
	if err := m.enter("exchange_code"); err != nil {
		return nil, err
	}
	return &TokenGrant{
		AccessToken:  "mock-access-" + code,
		RefreshToken: "mock-refresh-" + code,
		ExpiresAt:    utils.UTCNowAdd(time.Hour),
	}, nil
}
