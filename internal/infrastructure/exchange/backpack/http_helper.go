package backpack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fundarb/internal/domain/model"
)

const signWindow = "5000"

// signedRequest 发送 ED25519 签名请求。
// 签名串: instruction=<指令>&<按键排序的参数>&timestamp=<毫秒>&window=<窗口>
// GET/DELETE 参数走 query，POST 参数走 JSON body，签名串两者一致
func (c *APIClient) signedRequest(ctx context.Context, method, path, instruction string, params url.Values) ([]byte, error) {
	if !c.credentials.CanSign() {
		return nil, fmt.Errorf("backpack: signing key missing: %w", model.ErrAuth)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	message := "instruction=" + instruction
	if encoded := params.Encode(); encoded != "" {
		message += "&" + encoded
	}
	message += "&timestamp=" + timestamp + "&window=" + signWindow
	signature := c.credentials.Sign(message)

	endpoint := c.baseURL + path
	var req *http.Request
	var err error
	if method == http.MethodGet {
		if query := params.Encode(); query != "" {
			endpoint += "?" + query
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	} else {
		body := make(map[string]string, len(params))
		for key := range params {
			body[key] = params.Get(key)
		}
		var buf []byte
		buf, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(buf))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-API-KEY", c.credentials.APIKey())
	req.Header.Set("X-SIGNATURE", signature)
	req.Header.Set("X-TIMESTAMP", timestamp)
	req.Header.Set("X-WINDOW", signWindow)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("backpack http %d: %s: %w", resp.StatusCode, string(respBody), model.ErrAuth)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("backpack http %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
