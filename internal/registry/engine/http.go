package engine

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/httpx"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

const signatureHeader = "X-Registry-Signature"

type HTTPConfig struct {
	Endpoint   string
	Secret     string
	MaxRetries int
}

// HTTP calls the composition service over JSON.
type HTTP struct {
	log        *logger.Logger
	endpoint   string
	secret     string
	maxRetries int
	httpClient *http.Client
}

func NewHTTP(cfg HTTPConfig, log *logger.Logger) (*HTTP, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("missing COMPOSITION_ENDPOINT")
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &HTTP{
		log:        log.With("service", "CompositionHTTP"),
		endpoint:   endpoint,
		secret:     strings.TrimSpace(cfg.Secret),
		maxRetries: retries,
		// Deadlines come from the caller's context.
		httpClient: httpx.NewTracedClient(0),
	}, nil
}

type wireSchema struct {
	Name string `json:"name"`
	Raw  string `json:"raw"`
	URL  string `json:"url,omitempty"`
}

// wireExternal forwards the external composer's secret as is; it is not encrypted here.
type wireExternal struct {
	Endpoint string `json:"endpoint"`
	Secret   string `json:"secret"`
}

type wireRequest struct {
	Type       string         `json:"type"`
	Schemas    []wireSchema   `json:"schemas"`
	BaseSchema string         `json:"baseSchema,omitempty"`
	Native     bool           `json:"native"`
	External   *wireExternal  `json:"external,omitempty"`
	Contracts  []ContractSpec `json:"contracts,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

type wireContract struct {
	ID         string      `json:"id"`
	SDL        *string     `json:"sdl"`
	Supergraph *string     `json:"supergraph"`
	Errors     []wireError `json:"errors"`
}

type wireResponse struct {
	SDL        *string        `json:"sdl"`
	Supergraph *string        `json:"supergraph"`
	Errors     []wireError    `json:"errors"`
	Tags       []string       `json:"tags"`
	Contracts  []wireContract `json:"contracts"`
}

func toCompositionErrors(in []wireError) []registry.CompositionError {
	out := make([]registry.CompositionError, 0, len(in))
	for _, e := range in {
		src := registry.CompositionErrorSource(e.Source)
		if src == "" {
			src = registry.ErrorSourceComposition
		}
		out = append(out, registry.CompositionError{Message: e.Message, Source: src})
	}
	return out
}

func (r wireResponse) result() registry.CompositionResult {
	out := registry.CompositionResult{
		SDL:        r.SDL,
		Supergraph: r.Supergraph,
		Errors:     toCompositionErrors(r.Errors),
		Tags:       r.Tags,
	}
	if len(out.Errors) > 0 {
		out.SDL, out.Supergraph = nil, nil
	}
	for _, c := range r.Contracts {
		cr := registry.ContractCompositionResult{ContractID: c.ID, SDL: c.SDL, Supergraph: c.Supergraph, Errors: toCompositionErrors(c.Errors)}
		if len(cr.Errors) > 0 {
			cr.SDL, cr.Supergraph = nil, nil
		}
		out.Contracts = append(out.Contracts, cr)
	}
	return out
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (e *HTTP) Compose(ctx context.Context, req Request) (registry.CompositionResult, error) {
	wr := wireRequest{
		Type:       strings.ToLower(string(req.ProjectType)),
		BaseSchema: req.BaseSchema,
		Native:     req.Native,
		Contracts:  req.Contracts,
	}
	for _, s := range req.Schemas {
		wr.Schemas = append(wr.Schemas, wireSchema{Name: s.Name, Raw: s.SDL, URL: s.URL})
	}
	if req.External != nil && req.External.Endpoint != "" {
		wr.External = &wireExternal{Endpoint: req.External.Endpoint, Secret: req.External.Secret}
	}
	body, err := json.Marshal(wr)
	if err != nil {
		return registry.CompositionResult{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		res, resp, err := e.post(ctx, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || ctx.Err() != nil || attempt == e.maxRetries {
			break
		}
		wait := httpx.RetryAfterDuration(resp, httpx.JitterSleep(time.Duration(attempt+1)*250*time.Millisecond), 2*time.Second)
		e.log.Warn("composition call failed; retrying", "attempt", attempt+1, "error", err)
		if err := httpx.Sleep(ctx, wait); err != nil {
			return registry.CompositionResult{}, err
		}
	}
	return registry.CompositionResult{}, fmt.Errorf("compose: %w", lastErr)
}

func (e *HTTP) post(ctx context.Context, body []byte) (registry.CompositionResult, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/compose", bytes.NewReader(body))
	if err != nil {
		return registry.CompositionResult{}, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.secret != "" {
		req.Header.Set(signatureHeader, sign(e.secret, body))
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return registry.CompositionResult{}, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return registry.CompositionResult{}, resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return registry.CompositionResult{}, resp, &httpx.StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	var wr wireResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return registry.CompositionResult{}, resp, fmt.Errorf("decode composition response: %w", err)
	}
	return wr.result(), resp, nil
}
