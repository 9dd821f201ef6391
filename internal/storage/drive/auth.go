package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/camwatch/internal/common"
)

// TokenSource supplies bearer tokens for storage backend requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token forever. Used in tests and in
// development setups where a long-lived token is injected from outside.
type StaticTokenSource struct {
	AccessToken string
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	return s.AccessToken, nil
}

// serviceAccountKey mirrors the relevant fields of a service-account key file.
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ServiceAccountTokenSource exchanges a signed JWT assertion for a short-lived
// access token and caches it until shortly before expiry.
type ServiceAccountTokenSource struct {
	key    serviceAccountKey
	scope  string
	client *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// expirySkew is subtracted from the token lifetime so a token is refreshed
// before the backend starts rejecting it.
const expirySkew = 60 * time.Second

// NewServiceAccountTokenSource reads a service-account key file and prepares
// a token source for the given OAuth scope. Errors wrap common.ErrAuthInit.
func NewServiceAccountTokenSource(keyFile, scope string) (*ServiceAccountTokenSource, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading key file: %v", common.ErrAuthInit, err)
	}

	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("%w: parsing key file: %v", common.ErrAuthInit, err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" || key.TokenURI == "" {
		return nil, fmt.Errorf("%w: key file is missing required fields", common.ErrAuthInit)
	}

	return &ServiceAccountTokenSource{
		key:    key,
		scope:  scope,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Token returns a cached access token, refreshing it when expired.
func (s *ServiceAccountTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	token, expiresIn, err := s.exchange(ctx)
	if err != nil {
		return "", err
	}

	s.token = token
	s.expires = time.Now().Add(expiresIn - expirySkew)
	return s.token, nil
}

func (s *ServiceAccountTokenSource) exchange(ctx context.Context) (string, time.Duration, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   s.key.ClientEmail,
		"scope": s.scope,
		"aud":   s.key.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(s.key.PrivateKey))
	if err != nil {
		return "", 0, fmt.Errorf("%w: parsing private key: %v", common.ErrAuthInit, err)
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		return "", 0, fmt.Errorf("%w: signing assertion: %v", common.ErrAuthInit, err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.key.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", common.ErrAuthInit, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: token exchange: %v", common.ErrAuthInit, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: token endpoint returned %s", common.ErrAuthInit, resp.Status)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("%w: decoding token response: %v", common.ErrAuthInit, err)
	}
	if body.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: token endpoint returned empty token", common.ErrAuthInit)
	}

	return body.AccessToken, time.Duration(body.ExpiresIn) * time.Second, nil
}
