// internal/provider/http.go
// HTTP client implementations of the provider interfaces. Each provider is a
// small client with dial and request timeouts pointed at an integration
// endpoint that fronts the real source (PPSR B2G API, registry feed,
// valuation API). Scraping heuristics live behind those endpoints, never
// here.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
)

// httpClient is the shared plumbing for the three provider clients.
type httpClient struct {
	source    string     // Source name for schemas, logs and metrics
	base      string     // Base URL of the integration endpoint
	hc        *http.Client
	validator *Validator
}

// newHTTPClient builds a provider client with connection and request
// timeouts. A slow upstream surfaces as a failed Result at the deadline, not
// as an aborted aggregation.
func newHTTPClient(source, baseURL string, timeout time.Duration, validator *Validator) *httpClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}
	return &httpClient{
		source:    source,
		base:      baseURL,
		hc:        &http.Client{Transport: transport, Timeout: timeout},
		validator: validator,
	}
}

// fetch performs the lookup request and returns the validated raw body.
func (c *httpClient) fetch(ctx context.Context, id model.VehicleIdentifier) ([]byte, error) {
	q := url.Values{}
	if id.Type == model.IdentifierVIN {
		q.Set("vin", id.VIN)
	} else {
		q.Set("rego", id.Rego)
		q.Set("state", string(id.State))
	}
	u := fmt.Sprintf("%s/v1/lookup?%s", c.base, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", c.source, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.source, err)
	}

	if err := c.validator.Validate(c.source, body); err != nil {
		return nil, err
	}
	return body, nil
}

// lookup runs fetch and decodes the envelope into a typed Result. Transport
// and schema failures become failed Results.
func lookup[T any](c *httpClient, ctx context.Context, id model.VehicleIdentifier) Result[T] {
	body, err := c.fetch(ctx, id)
	if err != nil {
		return Fail[T](fmt.Sprintf("%s lookup failed: %v", c.source, err))
	}
	var res Result[T]
	if err := json.Unmarshal(body, &res); err != nil {
		return Fail[T](fmt.Sprintf("%s returned undecodable payload: %v", c.source, err))
	}
	if res.Success && res.Data == nil {
		return Fail[T](fmt.Sprintf("%s reported success without data", c.source))
	}
	if !res.Success && res.Error == "" {
		res.Error = fmt.Sprintf("%s reported failure without detail", c.source)
	}
	return res
}

// HTTPPPSR is the HTTP-backed PPSR provider.
type HTTPPPSR struct{ c *httpClient }

// NewHTTPPPSR builds a PPSR provider client.
func NewHTTPPPSR(baseURL string, timeout time.Duration, v *Validator) *HTTPPPSR {
	return &HTTPPPSR{c: newHTTPClient(SourcePPSR, baseURL, timeout, v)}
}

// Lookup implements PPSR.
func (p *HTTPPPSR) Lookup(ctx context.Context, id model.VehicleIdentifier) Result[PPSRData] {
	return lookup[PPSRData](p.c, ctx, id)
}

// HTTPRegistry is the HTTP-backed vehicle registry provider.
type HTTPRegistry struct{ c *httpClient }

// NewHTTPRegistry builds a registry provider client.
func NewHTTPRegistry(baseURL string, timeout time.Duration, v *Validator) *HTTPRegistry {
	return &HTTPRegistry{c: newHTTPClient(SourceRegistry, baseURL, timeout, v)}
}

// Lookup implements Registry.
func (p *HTTPRegistry) Lookup(ctx context.Context, id model.VehicleIdentifier) Result[RegistryData] {
	return lookup[RegistryData](p.c, ctx, id)
}

// HTTPValuation is the HTTP-backed market valuation provider.
type HTTPValuation struct{ c *httpClient }

// NewHTTPValuation builds a valuation provider client.
func NewHTTPValuation(baseURL string, timeout time.Duration, v *Validator) *HTTPValuation {
	return &HTTPValuation{c: newHTTPClient(SourceValuation, baseURL, timeout, v)}
}

// Lookup implements Valuation.
func (p *HTTPValuation) Lookup(ctx context.Context, id model.VehicleIdentifier) Result[ValuationData] {
	return lookup[ValuationData](p.c, ctx, id)
}
