/*
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package fhirclient implements a FHIR R4 REST client: URL composition,
// SMART-on-FHIR authentication, a retrying HTTP transport, Bundle/NDJSON
// response processing, parallel paged and two-phase by-last-updated
// retrieval, and a batched merge/validate pipeline.
package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Client is a fluently-configured FHIR client. Its builder fields
// (resource, query state, ...) are owned exclusively by one goroutine at
// a time; call Clone before handing a copy to a worker goroutine. The
// underlying auth token cache and well-known discovery cache are shared
// safely across every clone.
type Client struct {
	baseURL    string
	httpClient HttpRequestDoer
	config     Config
	transport  *transport

	resource              string
	objID                 string
	action                string
	ids                   []string
	filterByResource      string
	filterParameter       string
	includeOnlyProperties []string
	pageSize              int
	pageNumber            *int
	sortFields            []SortField
	includeTotal          bool
	filters               []string
	additionalParameters  []string
	lastUpdated           *LastUpdatedFilter
}

// NewClient builds a Client against the given FHIR base URL (e.g.
// "https://example.com/fhir") and HTTP transport seam.
func NewClient(baseURL string, httpClient HttpRequestDoer, opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		config:     cfg,
	}
	c.transport = newTransport(httpClient, &c.config)
	return c
}

// Clone returns an independent copy of the client's builder state. The
// copy gets its own copy of the config and a new transport bound to it;
// it shares the HTTP client and the auth engine.
func (c *Client) Clone() *Client {
	clone := *c
	clone.ids = append([]string(nil), c.ids...)
	clone.includeOnlyProperties = append([]string(nil), c.includeOnlyProperties...)
	clone.sortFields = append([]SortField(nil), c.sortFields...)
	clone.filters = append([]string(nil), c.filters...)
	clone.additionalParameters = append([]string(nil), c.additionalParameters...)
	clone.transport = newTransport(clone.httpClient, &clone.config)
	return &clone
}

// Path returns the absolute URL for the given path segments joined onto
// the client's base URL.
func (c *Client) Path(path ...string) *url.URL {
	u, _ := url.Parse(c.baseURL)
	return u.JoinPath(path...)
}

func (c *Client) ForResource(resourceType string) *Client {
	n := c.Clone()
	n.resource = resourceType
	return n
}

func (c *Client) WithID(id string) *Client {
	n := c.Clone()
	n.objID = id
	return n
}

func (c *Client) WithIDs(ids ...string) *Client {
	n := c.Clone()
	n.ids = ids
	return n
}

func (c *Client) WithFilterByResource(parameter, resourceType string) *Client {
	n := c.Clone()
	n.filterParameter = parameter
	n.filterByResource = resourceType
	return n
}

func (c *Client) IncludeOnlyProperties(props ...string) *Client {
	n := c.Clone()
	n.includeOnlyProperties = props
	return n
}

func (c *Client) PageSize(size int) *Client {
	n := c.Clone()
	n.pageSize = size
	return n
}

func (c *Client) PageNumber(page int) *Client {
	n := c.Clone()
	n.pageNumber = &page
	return n
}

func (c *Client) SortBy(fields ...SortField) *Client {
	n := c.Clone()
	n.sortFields = fields
	return n
}

func (c *Client) IncludeTotal() *Client {
	n := c.Clone()
	n.includeTotal = true
	return n
}

func (c *Client) WithFilters(filters ...string) *Client {
	n := c.Clone()
	n.filters = filters
	return n
}

func (c *Client) WithAdditionalParameters(params ...string) *Client {
	n := c.Clone()
	n.additionalParameters = params
	return n
}

func (c *Client) WithLastUpdated(f LastUpdatedFilter) *Client {
	n := c.Clone()
	n.lastUpdated = &f
	return n
}

func (c *Client) WithAction(action string) *Client {
	n := c.Clone()
	n.action = action
	return n
}

// url composes the current builder state (plus an optional id:above
// cursor) into a request URL.
func (c *Client) url(idAbove string) string {
	return buildURL(urlBuildOptions{
		baseURL:               c.baseURL,
		resource:              c.resource,
		objID:                 c.objID,
		action:                c.action,
		ids:                   c.ids,
		filterByResource:      c.filterByResource,
		filterParameter:       c.filterParameter,
		includeOnlyProperties: c.includeOnlyProperties,
		pageNumber:            c.pageNumber,
		pageSize:              c.pageSize,
		sortFields:            c.sortFields,
		includeTotal:          c.includeTotal,
		idAbove:               idAbove,
		filters:               c.filters,
		additionalParameters:  c.additionalParameters,
		lastUpdated:           c.lastUpdated,
	})
}

// accessToken resolves the bearer token to use for a request: a fixed
// AccessToken if configured, otherwise a fresh grant from the auth
// engine, otherwise none.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.config.AccessToken != "" {
		return c.config.AccessToken, nil
	}
	if c.config.AuthEngine != nil {
		return c.config.AuthEngine.GetAccessToken(ctx, c.baseURL)
	}
	return "", nil
}

func (c *Client) refreshTokenFunc() RefreshTokenFunc {
	if c.config.RefreshTokenFunc != nil {
		return c.config.RefreshTokenFunc
	}
	if c.config.AuthEngine != nil {
		return c.config.AuthEngine.RefreshTokenFunc(c.baseURL)
	}
	return nil
}

// get issues one GET request at the given page/id:above cursor and
// returns the processed result(s).
func (c *Client) get(ctx context.Context, idAbove string) ([]GetResponse, error) {
	requestURL := c.url(idAbove)
	return c.do(ctx, http.MethodGet, requestURL, nil)
}

func (c *Client) do(ctx context.Context, method, requestURL string, newBody newBodyFunc) ([]GetResponse, error) {
	requestID := uuid.NewString()

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Accept", "application/fhir+json")
	headers.Set("Content-Type", FhirJsonMediaType)
	headers.Set("X-Request-ID", requestID)

	resp, _, err := c.transport.fetch(ctx, method, requestURL, headers, newBody, token, c.refreshTokenFunc())
	if err != nil {
		if !c.config.ThrowOnError {
			return []GetResponse{{RequestID: requestID, URL: requestURL, Error: err.Error()}}, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	if c.config.Non2xxStatusHandler != nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(c.config.effectiveMaxResponseSize())))
		c.config.Non2xxStatusHandler(resp, body)
		resp = &http.Response{StatusCode: resp.StatusCode, Body: io.NopCloser(bytes.NewReader(body)), Header: resp.Header}
	}

	results, err := processResponse(resp, requestURL, token, &c.config, nil)
	results = tagRequestID(results, requestID)
	if err != nil {
		return results, err
	}

	if c.config.ThrowOnError {
		for _, r := range results {
			if r.Status < 200 || r.Status >= 300 {
				return results, classifyStatusError(r)
			}
		}
	}
	return results, nil
}

func tagRequestID(results []GetResponse, id string) []GetResponse {
	for i := range results {
		results[i].RequestID = id
	}
	return results
}

func classifyStatusError(r GetResponse) error {
	switch r.Status {
	case http.StatusNotFound:
		return &NotFoundError{URL: r.URL}
	case http.StatusForbidden:
		return &ForbiddenError{URL: r.URL}
	case http.StatusUnauthorized:
		return &UnauthorizedError{Status: r.Status, URL: r.URL, Body: r.Error}
	default:
		return fmt.Errorf("fhirclient: request to %s failed (status=%d): %s", r.URL, r.Status, r.Error)
	}
}

// ReadWithContext reads a single resource by type and id.
func (c *Client) ReadWithContext(ctx context.Context, resourceType, id string) (map[string]any, error) {
	results, err := c.ForResource(resourceType).WithID(id).get(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || len(results[0].Resources) == 0 {
		return nil, &NotFoundError{URL: c.ForResource(resourceType).WithID(id).url("")}
	}
	return results[0].Resources[0], nil
}

// Read is like ReadWithContext but uses context.Background.
func (c *Client) Read(resourceType, id string) (map[string]any, error) {
	return c.ReadWithContext(context.Background(), resourceType, id)
}

// CreateWithContext POSTs a new resource, deriving its path from
// resource["resourceType"].
func (c *Client) CreateWithContext(ctx context.Context, resource map[string]any) (map[string]any, error) {
	resourceType, _ := resource["resourceType"].(string)
	if resourceType == "" {
		return nil, fmt.Errorf("fhirclient: resource missing resourceType")
	}
	data, err := json.Marshal(resource)
	if err != nil {
		return nil, err
	}
	target := c.ForResource(resourceType)
	results, err := target.do(ctx, http.MethodPost, target.url(""), fixedBody(data))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || len(results[0].Resources) == 0 {
		return nil, nil
	}
	return results[0].Resources[0], nil
}

// UpdateWithContext PUTs a resource at resourceType/id.
func (c *Client) UpdateWithContext(ctx context.Context, resourceType, id string, resource map[string]any) (map[string]any, error) {
	data, err := json.Marshal(resource)
	if err != nil {
		return nil, err
	}
	target := c.ForResource(resourceType).WithID(id)
	results, err := target.do(ctx, http.MethodPut, target.url(""), fixedBody(data))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || len(results[0].Resources) == 0 {
		return nil, nil
	}
	return results[0].Resources[0], nil
}

// DeleteWithContext deletes resourceType/id.
func (c *Client) DeleteWithContext(ctx context.Context, resourceType, id string) error {
	target := c.ForResource(resourceType).WithID(id)
	_, err := target.do(ctx, http.MethodDelete, target.url(""), nil)
	return err
}

func fixedBody(data []byte) newBodyFunc {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// SearchWithContext performs a single search-type request using the
// client's current builder state (query params, sort, filters, ...) and
// returns the processed result.
func (c *Client) SearchWithContext(ctx context.Context, resourceType string) (GetResponse, error) {
	target := c
	if resourceType != "" {
		target = c.ForResource(resourceType)
	}
	results, err := target.get(ctx, "")
	if err != nil {
		return GetResponse{}, err
	}
	if len(results) == 0 {
		return GetResponse{}, nil
	}
	return results[0], nil
}

// SearchPages runs the parallel paged query engine over the client's
// current builder state, invoking onPage for each page fetched. The
// callback returning false stops all workers early. concurrentWorkers is
// capped by Config.MaxConcurrentRequests when that option is set.
func (c *Client) SearchPages(ctx context.Context, concurrentWorkers int, onPage func(resources []map[string]any) bool) error {
	concurrentWorkers = c.config.capConcurrency(concurrentWorkers)
	return pagedQuery(ctx, concurrentWorkers, func(ctx context.Context, pageNumber int, idAbove string) ([]map[string]any, string, error) {
		page := c.PageNumber(pageNumber)
		results, err := page.get(ctx, idAbove)
		if err != nil {
			return nil, "", err
		}
		var resources []map[string]any
		for _, r := range results {
			resources = append(resources, r.Resources...)
		}
		return resources, lastResourceID(resources), nil
	}, func(p pagingResult) bool {
		return onPage(p.Resources)
	})
}

// ResourcesByLastUpdated runs the two-phase by-last-updated engine:
// Phase A collects ids day-by-day, Phase B fetches resources for those
// ids in parallel chunks.
func (c *Client) ResourcesByLastUpdated(ctx context.Context, opts TwoPhaseOptions, onResources func([]map[string]any) bool) error {
	idClient := c.Clone()
	idClient.includeOnlyProperties = []string{"id"}
	idClient.pageSize = opts.PageSizeForIDs

	opts.ConcurrentRequests = c.config.capConcurrency(opts.ConcurrentRequests)
	opts.ConcurrentIDWorkers = c.config.capConcurrency(opts.ConcurrentIDWorkers)

	return resourcesByLastUpdated(ctx, opts,
		func(ctx context.Context, window LastUpdatedFilter, pageNumber int, idAbove string) ([]map[string]any, string, error) {
			page := idClient.Clone()
			page.lastUpdated = &window
			page.pageNumber = &pageNumber
			results, err := page.get(ctx, idAbove)
			if err != nil {
				return nil, "", err
			}
			var resources []map[string]any
			for _, r := range results {
				resources = append(resources, r.Resources...)
			}
			return resources, lastResourceID(resources), nil
		},
		func(ctx context.Context, ids []string) ([]map[string]any, error) {
			page := c.WithIDs(ids...)
			page.pageNumber = intPtr(0)
			results, err := page.get(ctx, "")
			if err != nil {
				return nil, err
			}
			var resources []map[string]any
			for _, r := range results {
				resources = append(resources, r.Resources...)
			}
			return resources, nil
		},
		onResources,
	)
}

func intPtr(i int) *int { return &i }

// Merge runs the merge/validate pipeline against the client's resource
// type, POSTing to {resource}/{id|1}/$merge per batch.
func (c *Client) Merge(ctx context.Context, opts MergeOptions, resources []map[string]any) (*MergeResponse, error) {
	opts.ResourceType = c.resource
	opts.MaxConcurrency = c.config.capConcurrency(opts.MaxConcurrency)
	return mergeResources(ctx, opts, resources, func(ctx context.Context, resourceType string, batch []map[string]any) (int, []byte, error) {
		var body []byte
		var err error
		if len(batch) == 1 {
			body, err = json.Marshal(batch[0])
		} else {
			body, err = json.Marshal(batch)
		}
		if err != nil {
			return 0, nil, err
		}

		id := ""
		if len(batch) == 1 {
			id, _ = batch[0]["id"].(string)
		}
		segment := mergeObjIDPathSegment(id)

		target := c.ForResource(resourceType).WithID(segment).WithAction("$merge")
		token, err := target.accessToken(ctx)
		if err != nil {
			return 0, nil, err
		}
		headers := http.Header{}
		headers.Set("Content-Type", FhirJsonMediaType)
		headers.Set("Accept", FhirJsonMediaType)

		resp, _, err := target.transport.fetch(ctx, http.MethodPost, target.url(""), headers, fixedBody(body), token, target.refreshTokenFunc())
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.config.effectiveMaxResponseSize())))
		if err != nil {
			return 0, nil, err
		}
		return resp.StatusCode, respBody, nil
	})
}

// Graph runs the $graph operation against the client's resource type
// using graphDefinition as the GraphDefinition body. When
// opts.ProcessInPages is set, it delegates to the Paged Query Engine
// instead, walking successive pages of a GET $graph request; otherwise
// ids are chunked and one $graph POST is issued per chunk.
func (c *Client) Graph(ctx context.Context, opts GraphOptions, graphDefinition map[string]any) ([]*GetResponse, error) {
	if opts.ProcessInPages {
		return c.graphInPages(ctx, opts)
	}
	return runGraph(ctx, opts, graphDefinition, func(ctx context.Context, ids []string, graphDefinition map[string]any, contained bool) (*GetResponse, error) {
		body, err := json.Marshal(graphDefinition)
		if err != nil {
			return nil, err
		}
		target := c.WithIDs(ids...).WithAction("$graph")
		if contained {
			target = target.WithAdditionalParameters("contained=true")
		}
		token, err := target.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		headers := http.Header{}
		headers.Set("Content-Type", FhirJsonMediaType)
		headers.Set("Accept", FhirJsonMediaType)

		resp, _, err := target.transport.fetch(ctx, http.MethodPost, target.url(""), headers, fixedBody(body), token, target.refreshTokenFunc())
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		results, err := processResponse(resp, target.url(""), token, &target.config, nil)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return &GetResponse{}, nil
		}
		return &results[0], nil
	})
}

// graphInPages walks a $graph operation page by page via the Paged
// Query Engine, using a GET request per page instead of one POST per id
// chunk.
func (c *Client) graphInPages(ctx context.Context, opts GraphOptions) ([]*GetResponse, error) {
	ids := opts.IDs
	if len(ids) == 0 {
		ids = []string{"1"}
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = 1
	}

	target := c.WithIDs(ids...).WithAction("$graph").PageSize(pageSize)
	if opts.Contained {
		target = target.WithAdditionalParameters("contained=true")
	}

	var responses []*GetResponse
	err := pagedQuery(ctx, 1, func(ctx context.Context, pageNumber int, idAbove string) ([]map[string]any, string, error) {
		page := target.PageNumber(pageNumber)
		results, err := page.get(ctx, idAbove)
		if err != nil {
			return nil, "", err
		}
		var resources []map[string]any
		for _, r := range results {
			resources = append(resources, r.Resources...)
		}
		return resources, lastResourceID(resources), nil
	}, func(p pagingResult) bool {
		responses = append(responses, &GetResponse{Resources: p.Resources})
		return true
	})
	return responses, err
}

// DescribeResource extracts the resourceType of a resource value,
// matching the teacher's ResourceDescription helper.
func DescribeResource(resource any) (*ResourceDescription, error) {
	var data []byte
	if b, ok := resource.([]byte); ok {
		data = b
	} else {
		var err error
		data, err = json.Marshal(resource)
		if err != nil {
			return nil, fmt.Errorf("fhirclient: invalid resource of type %T: %w", resource, err)
		}
	}
	var desc ResourceDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("fhirclient: invalid resource of type %T: %w", resource, err)
	}
	if desc.Type == "" {
		return nil, fmt.Errorf("fhirclient: resourceType not present in resource of type %T", resource)
	}
	desc.Data = data
	return &desc, nil
}

// ResourceDescription contains information extracted from a resource.
type ResourceDescription struct {
	Type string `json:"resourceType"`
	Data []byte `json:"-"`
}
