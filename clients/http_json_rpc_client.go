package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/util"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBodySize = 64 * 1024 * 1024

type JsonRpcClient interface {
	// Call sends one request and returns the raw "result" member of the response.
	Call(ctx context.Context, method string, params []interface{}) ([]byte, error)
	Endpoint() string
}

type GenericHttpJsonRpcClient struct {
	Url     *url.URL
	headers map[string]string

	appCtx          context.Context
	logger          *zerolog.Logger
	httpClient      *http.Client
	isLogLevelTrace bool
}

var _ JsonRpcClient = (*GenericHttpJsonRpcClient)(nil)

func NewGenericHttpJsonRpcClient(
	appCtx context.Context,
	logger *zerolog.Logger,
	parsedUrl *url.URL,
	rpcCfg *common.RpcConfig,
) (*GenericHttpJsonRpcClient, error) {
	if parsedUrl.Scheme != "http" && parsedUrl.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme: %v", parsedUrl.Scheme)
	}
	client := &GenericHttpJsonRpcClient{
		Url:             parsedUrl,
		appCtx:          appCtx,
		logger:          logger,
		isLogLevelTrace: logger.GetLevel() == zerolog.TraceLevel,
	}

	timeout := common.DefaultRpcTimeout
	if rpcCfg != nil {
		timeout = rpcCfg.Timeout.WithDefault(timeout)
		client.headers = rpcCfg.Headers
	}

	if util.IsTest() {
		// gock intercepts http.DefaultTransport, so tests must not use a custom one
		client.httpClient = &http.Client{Timeout: timeout}
	} else {
		client.httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return client, nil
}

func (c *GenericHttpJsonRpcClient) Endpoint() string {
	return util.RedactEndpoint(c.Url.String())
}

func (c *GenericHttpJsonRpcClient) Call(ctx context.Context, method string, params []interface{}) ([]byte, error) {
	ctx, span := common.StartSpan(ctx, "HttpJsonRpcClient.Call",
		trace.WithAttributes(
			attribute.String("request.method", method),
			attribute.String("endpoint", c.Endpoint()),
		),
	)
	defer span.End()

	jrReq := common.NewJsonRpcRequest(util.RandomID(), method, params)
	requestBody, err := common.SonicCfg.Marshal(jrReq)
	if err != nil {
		common.SetTraceSpanError(span, err)
		return nil, err
	}

	reqStartTime := time.Now()
	httpReq, err := c.prepareRequest(ctx, requestBody)
	if err != nil {
		common.SetTraceSpanError(span, err)
		return nil, common.NewErrTransport(c.Endpoint(), err)
	}
	if c.isLogLevelTrace {
		c.logger.Trace().Str("host", c.Url.Host).RawJSON("request", requestBody).Msg("sending json rpc POST request")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}
		c.logger.Debug().Err(err).Object("request", jrReq).Dur("duration", time.Since(reqStartTime)).Msg("transport failure while sending request")
		common.SetTraceSpanError(span, err)
		return nil, common.NewErrTransport(c.Endpoint(), err)
	}

	body, err := readResponseBody(resp)
	if err != nil {
		common.SetTraceSpanError(span, err)
		return nil, common.NewErrTransport(c.Endpoint(), err)
	}

	result, err := c.normalizeJsonRpcResponse(resp, body)
	if err != nil {
		common.SetTraceSpanError(span, err)
		return nil, err
	}

	c.logger.Trace().Str("method", method).Int("resultSize", len(result)).Dur("duration", time.Since(reqStartTime)).Msg("received json rpc response")
	return result, nil
}

func (c *GenericHttpJsonRpcClient) prepareRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.Url.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept-Encoding", "gzip")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "contractreads")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	propagator.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	return httpReq, nil
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	var reader io.ReadCloser = resp.Body
	defer resp.Body.Close()

	if resp.Header.Get("Content-Encoding") == "gzip" {
		var err error
		reader, err = gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("error creating gzip reader: %w", err)
		}
		defer reader.Close()
	}

	return util.ReadAll(reader, 16*1024, maxResponseBodySize)
}

func (c *GenericHttpJsonRpcClient) normalizeJsonRpcResponse(r *http.Response, body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, common.NewErrTransport(c.Endpoint(), fmt.Errorf("empty response body with status %d", r.StatusCode))
	}

	jr := &common.JsonRpcResponse{}
	if err := common.SonicCfg.Unmarshal(body, jr); err != nil {
		if r.StatusCode >= 400 {
			return nil, common.NewErrTransport(c.Endpoint(), fmt.Errorf("unexpected status %d: %s", r.StatusCode, truncate(body, 256)))
		}
		return nil, common.NewErrTransport(c.Endpoint(), fmt.Errorf("could not parse json rpc response: %w", err))
	}

	if jr.Error != nil {
		c.logger.Debug().Object("response", jr).Msg("json rpc node returned an error")
		return nil, jr.AsError()
	}
	if r.StatusCode >= 400 {
		return nil, common.NewErrTransport(c.Endpoint(), fmt.Errorf("unexpected status %d", r.StatusCode))
	}
	if len(jr.Result) == 0 {
		return nil, common.NewErrTransport(c.Endpoint(), errors.New("json rpc response has neither result nor error"))
	}

	return jr.Result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
