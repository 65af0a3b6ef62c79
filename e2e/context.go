package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TestContext carries per-scenario state against a running matrix server.
type TestContext struct {
	BaseURL string
	client  *http.Client
	token   string

	lastStatus int
	lastBody   []byte

	owners map[string]uuid.UUID
	suffix string
}

// NewTestContext reads E2E_BASE_URL and mints a service token from E2E_SERVICE_TOKEN_KEY.
func NewTestContext() (*TestContext, error) {
	tc := &TestContext{
		BaseURL: strings.TrimRight(getenv("E2E_BASE_URL", "http://localhost:8080"), "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		owners:  map[string]uuid.UUID{},
		suffix:  uuid.NewString()[:8],
	}
	token, err := mintServiceToken(
		getenv("E2E_SERVICE_TOKEN_KEY", "dev-service-key-change-in-production"),
		getenv("E2E_TOKEN_ISSUER", "identity"),
		getenv("E2E_TOKEN_AUDIENCE", "matrix"),
	)
	if err != nil {
		return nil, err
	}
	tc.token = token
	return tc, nil
}

func mintServiceToken(key, issuer, audience string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"svc": "e2e",
		"sub": "e2e",
		"iss": issuer,
		"aud": []string{audience},
		"iat": now.Unix(),
		"exp": now.Add(15 * time.Minute).Unix(),
		"jti": uuid.NewString(),
	})
	return token.SignedString([]byte(key))
}

// Reset clears response state and owner aliases between scenarios.
func (tc *TestContext) Reset() {
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.owners = map[string]uuid.UUID{}
	tc.suffix = uuid.NewString()[:8]
}

// Username scopes alias to the running scenario; the server keeps members across runs.
func (tc *TestContext) Username(alias string) string {
	return alias + "-" + tc.suffix
}

// OwnerID returns the owner id behind alias, allocating a fresh one on first use so
// scenarios never collide with earlier runs.
func (tc *TestContext) OwnerID(alias string) string {
	ownerID, ok := tc.owners[alias]
	if !ok {
		ownerID = uuid.New()
		tc.owners[alias] = ownerID
	}
	return ownerID.String()
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, true)
}

func (tc *TestContext) PUT(path string, body any) error {
	return tc.do(http.MethodPut, path, body, true)
}

func (tc *TestContext) POSTWithoutAuth(path string, body any) error {
	return tc.do(http.MethodPost, path, body, false)
}

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil, false)
}

func (tc *TestContext) do(method, path string, body any, authorized bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) StatusCode() int {
	return tc.lastStatus
}

// GetResponseField reads a dotted path (e.g. "position.readable_path") from the last
// JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var doc any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("decode response: %w (body %s)", err, tc.lastBody)
	}
	for _, key := range strings.Split(field, ".") {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, key)
		}
		if doc, ok = obj[key]; !ok {
			return nil, fmt.Errorf("field %q not found in %s", field, tc.lastBody)
		}
	}
	return doc, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
