//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	jwttoken "degreeproof/internal/jwt_token"
	"degreeproof/pkg/domain"
)

const (
	devSigningKey   = "dev-secret-key-change-in-production"
	defaultIssuer   = "http://localhost:8080"
	defaultAudience = "degreeproof"
)

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	tokens *jwttoken.JWTService
	actor  domain.Actor
	saved  map[string]string
	// runID keeps natural keys unique across runs against a long-lived server.
	runID string
}

// NewTestContext creates a new test context
func NewTestContext() *TestContext {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	key := os.Getenv("AUTH_JWT_SIGNING_KEY")
	if key == "" {
		key = devSigningKey
	}

	return &TestContext{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		tokens:     jwttoken.NewJWTService(key, defaultIssuer, defaultAudience, time.Hour),
		saved:      make(map[string]string),
		runID:      uuid.NewString()[:8],
	}
}

// ActAs switches the bearer identity used by later requests. An empty role
// sends requests without a token.
func (tc *TestContext) ActAs(role, institute string) {
	if role == "" {
		tc.actor = domain.Actor{}
		return
	}
	tc.actor = domain.Actor{
		ID:          "e2e-" + role,
		Role:        domain.Role(role),
		InstituteID: domain.InstituteID(institute),
	}
}

// Unique suffixes a natural key so each run gets its own candidates.
func (tc *TestContext) Unique(s string) string {
	return s + "-" + tc.runID
}

func (tc *TestContext) Save(key, value string) { tc.saved[key] = value }

func (tc *TestContext) Saved(key string) (string, error) {
	v, ok := tc.saved[key]
	if !ok {
		return "", fmt.Errorf("nothing saved as %q", key)
	}
	return v, nil
}

// POST sends body as JSON and stores the response
func (tc *TestContext) POST(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return tc.do(http.MethodPost, path, "application/json", bytes.NewReader(data))
}

// POSTRaw sends body with an explicit content type
func (tc *TestContext) POSTRaw(path, contentType string, body []byte) error {
	return tc.do(http.MethodPost, path, contentType, bytes.NewReader(body))
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, "", nil)
}

// Upload posts a multipart form with one file part named field.
func (tc *TestContext) Upload(path, field, filename, contentType string, content []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return tc.do(http.MethodPost, path, mw.FormDataContentType(), &buf)
}

func (tc *TestContext) do(method, path, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tc.actor.ID != "" {
		token, err := tc.tokens.Mint(tc.actor, time.Now())
		if err != nil {
			return fmt.Errorf("failed to mint token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a dotted path such as "credential.proof" from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	for _, part := range strings.Split(field, ".") {
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %s not found in response", field)
		}
		if data, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %s not found in response", field)
		}
	}
	return data, nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}
