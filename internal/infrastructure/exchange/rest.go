package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError 交易所返回的业务错误（HTTP 非 2xx 或返回码非成功）
type APIError struct {
	Exchange string
	Status   int
	Code     string
	Msg      string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error %d (code %s): %s", e.Exchange, e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s api error %d: %s", e.Exchange, e.Status, e.Msg)
}

// Credentials API 凭证
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// SignHex HMAC-SHA256 签名，hex 输出（binance/bybit/bitget）
func (c Credentials) SignHex(data string) string {
	h := hmac.New(sha256.New, []byte(c.Secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// SignBase64 HMAC-SHA256 签名，base64 输出（okx）
func (c Credentials) SignBase64(data string) string {
	h := hmac.New(sha256.New, []byte(c.Secret))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// RESTClient 共享的 HTTP 调用封装
type RESTClient struct {
	exchange   string
	httpClient *http.Client
}

// NewRESTClient 创建 REST 客户端，httpClient 为 nil 时使用 10s 超时的默认客户端
func NewRESTClient(exchange string, httpClient *http.Client) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTClient{exchange: exchange, httpClient: httpClient}
}

// Get 发送 GET 请求，header 可为 nil
func (c *RESTClient) Get(ctx context.Context, baseURL, path string, params url.Values, header http.Header) ([]byte, error) {
	endpoint := strings.TrimRight(baseURL, "/") + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Do(req)
}

// Do 执行请求，非 2xx 返回 *APIError
func (c *RESTClient) Do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &APIError{Exchange: c.exchange, Status: resp.StatusCode, Msg: msg}
	}
	return body, nil
}
