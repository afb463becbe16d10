// Package daktela implements the Daktela API v6 client: authentication,
// paginated list calls, dependent sub-resource calls and the retry and
// filter handling around them.
package daktela

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/keboola/component-daktela/pkg/clients"
	"github.com/keboola/component-daktela/pkg/config"
	"github.com/keboola/component-daktela/pkg/errors"
	jsonpool "github.com/keboola/component-daktela/pkg/json"
	"github.com/keboola/component-daktela/pkg/logger"
	"github.com/keboola/component-daktela/pkg/metrics"
	"github.com/keboola/component-daktela/pkg/models"
	stringpool "github.com/keboola/component-daktela/pkg/strings"
)

const apiPrefix = "api/v6/"

// Client talks to one Daktela instance.
type Client struct {
	http     *clients.HTTPClient
	logger   *zap.Logger
	baseURL  string
	username string
	password string

	token string

	pageSize    int
	authTimeout time.Duration
	retry       RetryPolicy
}

// NewClient creates a client from the run configuration.
func NewClient(cfg *config.Config, httpClient *clients.HTTPClient) *Client {
	return &Client{
		http:        httpClient,
		logger:      logger.With(zap.String("component", "daktela_client")),
		baseURL:     cfg.BaseURL(),
		username:    cfg.Connection.Username,
		password:    cfg.Connection.Password,
		pageSize:    cfg.Advanced.PageSize,
		authTimeout: cfg.Advanced.AuthTimeout,
		retry: RetryPolicy{
			MaxAttempts: cfg.Advanced.MaxRetries,
			BaseDelay:   cfg.Advanced.RetryDelay,
		},
	}
}

// Token returns the access token obtained by Login.
func (c *Client) Token() string {
	return c.token
}

// Login exchanges the configured credentials for an access token. The result
// envelope normally carries an accessToken field but some instances return
// the token as a bare string.
func (c *Client) Login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	ub := stringpool.NewURLBuilder(c.baseURL)
	ub.AddPath("api", "v6", "login.json")
	ub.AddParam("username", c.username)
	ub.AddParam("password", c.password)
	ub.AddParam("only_token", "1")
	url := ub.String()
	ub.Close()

	resp, err := c.http.Post(ctx, url, nil, nil)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("login", "failure").Inc()
		return errors.Wrap(err, errors.ErrorTypeConnection, "login request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		metrics.RequestsTotal.WithLabelValues("login", "failure").Inc()
		return errors.New(errors.ErrorTypeAuthentication, "invalid credentials").
			WithDetail("status", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.RequestsTotal.WithLabelValues("login", "failure").Inc()
		return errors.New(errors.ErrorTypeAuthentication,
			stringpool.Sprintf("login returned status %d", resp.StatusCode))
	}

	var loginResp models.LoginResponse
	dec := jsonpool.GetDecoder(resp.Body)
	err = dec.Decode(&loginResp)
	jsonpool.PutDecoder(dec)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("login", "failure").Inc()
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode login response")
	}

	token := extractToken(loginResp.Result)
	if token == "" {
		metrics.RequestsTotal.WithLabelValues("login", "failure").Inc()
		return errors.New(errors.ErrorTypeAuthentication, "login response carried no access token")
	}

	c.token = token
	metrics.RequestsTotal.WithLabelValues("login", "success").Inc()
	c.logger.Info("authenticated", zap.String("server", c.baseURL))
	return nil
}

// extractToken pulls the access token out of the login result envelope.
func extractToken(result interface{}) string {
	switch v := result.(type) {
	case string:
		return v
	case map[string]interface{}:
		if token, ok := v["accessToken"].(string); ok {
			return token
		}
	}
	return ""
}

// PreparePath normalizes an endpoint path into the request path of a list
// call: the leading slash is stripped, ".json" is appended when missing and
// the "api/v6/" prefix is added unless the path already starts with "api/".
func PreparePath(path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if !stringpool.HasSuffix(path, ".json") {
		path += ".json"
	}
	if !stringpool.HasPrefix(path, "api/") {
		path = apiPrefix + path
	}
	return path
}

// listURL builds the URL of one list page.
func (c *Client) listURL(path string, skip, take int, fields []string, filter DateFilter) string {
	ub := stringpool.NewURLBuilder(c.baseURL + "/" + PreparePath(path))
	defer ub.Close()

	ub.AddParam("accessToken", c.token)
	ub.AddParamInt("skip", skip)
	ub.AddParamInt("take", take)
	if len(fields) > 0 {
		ub.AddParam("fields", stringpool.JoinPooled(fields, ","))
	}
	filter.Apply(ub)
	return ub.String()
}

// fetchPage performs one list request and decodes the result envelope.
// hadFilter steers the classification of client-side rejections.
func (c *Client) fetchPage(ctx context.Context, endpoint, url string, hadFilter bool) (*models.Page, error) {
	timer := metrics.NewTimer(endpoint)
	resp, err := c.http.Get(ctx, url, nil)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "failure").Inc()
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "list request timed out")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "list request failed")
	}
	defer resp.Body.Close()
	metrics.RequestDuration.WithLabelValues(endpoint).Observe(timer.Stop().Seconds())

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decoding
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.RequestsTotal.WithLabelValues(endpoint, "failure").Inc()
		io.Copy(io.Discard, resp.Body)
		return nil, errors.New(errors.ErrorTypeAuthentication, "access token rejected").
			WithDetail("endpoint", endpoint).
			WithDetail("status", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RequestsTotal.WithLabelValues(endpoint, "failure").Inc()
		io.Copy(io.Discard, resp.Body)
		return nil, errors.New(errors.ErrorTypeRateLimit, "rate limited by server").
			WithDetail("endpoint", endpoint)
	case resp.StatusCode >= 500:
		metrics.RequestsTotal.WithLabelValues(endpoint, "failure").Inc()
		io.Copy(io.Discard, resp.Body)
		return nil, errors.New(errors.ErrorTypeAPI,
			stringpool.Sprintf("server error %d", resp.StatusCode)).
			WithDetail("endpoint", endpoint)
	default:
		metrics.RequestsTotal.WithLabelValues(endpoint, "failure").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		errType := errors.ErrorTypeValidation
		if hadFilter {
			errType = errors.ErrorTypeFilter
		}
		return nil, errors.New(errType,
			stringpool.Sprintf("list request rejected with status %d", resp.StatusCode)).
			WithDetail("endpoint", endpoint).
			WithDetail("body", string(body))
	}

	var listResp models.ListResponse
	dec := jsonpool.GetDecoder(resp.Body)
	err = dec.Decode(&listResp)
	jsonpool.PutDecoder(dec)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "failure").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode list response").
			WithDetail("endpoint", endpoint)
	}

	if msg := envelopeError(listResp.Error); msg != "" {
		metrics.RequestsTotal.WithLabelValues(endpoint, "failure").Inc()
		errType := errors.ErrorTypeAPI
		if hadFilter && stringpool.Contains(msg, "filter") {
			errType = errors.ErrorTypeFilter
		}
		return nil, errors.New(errType, stringpool.Sprintf("API error: %s", msg)).
			WithDetail("endpoint", endpoint)
	}

	metrics.RequestsTotal.WithLabelValues(endpoint, "success").Inc()
	metrics.RecordsFetched.WithLabelValues(endpoint).Add(float64(len(listResp.Result.Data)))
	return &models.Page{
		Total: listResp.Result.Total,
		Data:  listResp.Result.Data,
	}, nil
}

// envelopeError renders the error member of a response envelope. Daktela
// reports "no error" as an empty array or empty map.
func envelopeError(v interface{}) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case []interface{}:
		if len(e) == 0 {
			return ""
		}
		parts := make([]string, 0, len(e))
		for _, item := range e {
			parts = append(parts, stringpool.ValueToString(item))
		}
		return stringpool.JoinPooled(parts, "; ")
	case map[string]interface{}:
		if len(e) == 0 {
			return ""
		}
		parts := make([]string, 0, len(e))
		for key, item := range e {
			parts = append(parts, stringpool.Sprintf("%s: %s", key, stringpool.ValueToString(item)))
		}
		return stringpool.JoinPooled(parts, "; ")
	default:
		return stringpool.ValueToString(v)
	}
}

// FetchPage fetches one page of an endpoint with retries. A server-side
// filter rejection is retried exactly once without the filter, preserving
// the field selection; the returned droppedFilter flag reports that case.
func (c *Client) FetchPage(ctx context.Context, ep config.Endpoint, skip int, filter DateFilter) (page *models.Page, droppedFilter bool, err error) {
	hasFilter := ep.DateField != "" && !filter.Empty()

	url := c.listURL(ep.RequestPath(), skip, c.pageSize, ep.Fields, filter)
	err = c.retry.Execute(ctx, c.logger, ep.Name, func() error {
		var ferr error
		page, ferr = c.fetchPage(ctx, ep.Name, url, hasFilter)
		return ferr
	})
	if err == nil || !errors.IsType(err, errors.ErrorTypeFilter) || !hasFilter {
		return page, false, err
	}

	// One filterless retry, fields preserved
	c.logger.Warn("filter rejected by server, retrying without filter",
		zap.String("endpoint", ep.Name), zap.Error(err))
	metrics.RequestsTotal.WithLabelValues(ep.Name, "filter_retry").Inc()

	url = c.listURL(ep.RequestPath(), skip, c.pageSize, ep.Fields, DateFilter{})
	err = c.retry.Execute(ctx, c.logger, ep.Name, func() error {
		var ferr error
		page, ferr = c.fetchPage(ctx, ep.Name, url, false)
		return ferr
	})
	return page, err == nil, err
}

// FetchDependent fetches the sub-resource of one parent record, e.g.
// activities/{id}/call. The parent id is escaped as a single path segment
// since it comes from record data. Dependent results are small and come
// back in one page sized by the configured take.
func (c *Client) FetchDependent(ctx context.Context, parent, child config.Endpoint, parentID string) ([]models.RawRecord, error) {
	path := parent.RequestPath() + "/" + stringpool.PathEscape(parentID) + "/" + child.ChildPath

	url := c.listURL(path, 0, c.pageSize, child.Fields, DateFilter{})
	var page *models.Page
	err := c.retry.Execute(ctx, c.logger, child.Name, func() error {
		var ferr error
		page, ferr = c.fetchPage(ctx, child.Name, url, false)
		return ferr
	})
	if err != nil {
		metrics.DependentCallsTotal.WithLabelValues(child.Name, "failure").Inc()
		return nil, err
	}
	metrics.DependentCallsTotal.WithLabelValues(child.Name, "success").Inc()
	return page.Data, nil
}

// PageSize returns the configured take parameter.
func (c *Client) PageSize() int {
	return c.pageSize
}
