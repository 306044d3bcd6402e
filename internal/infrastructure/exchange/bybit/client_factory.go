package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

const exchangeName = "bybit"

// ===== Credentials 凭证 =====

// Credentials 包含 API 凭证和签名方法
type Credentials struct {
	apiKey    string
	apiSecret string
}

// NewCredentials 创建凭证对象
func NewCredentials(apiKey, apiSecret string) *Credentials {
	return &Credentials{
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

// Sign 生成 HMAC-SHA256 签名
func (c *Credentials) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// APIKey 返回 API Key
func (c *Credentials) APIKey() string {
	return c.apiKey
}

// APIClient 封装访问 Bybit REST API 所需的共享依赖
type APIClient struct {
	credentials *Credentials
	httpClient  *http.Client
	baseURL     string
}

// Manager Bybit V5 统一账户管理器。
// V5 API 现货与合约共用一个域名，按 category 参数区分
type Manager struct {
	Order   *OrderClient
	Account *AccountClient
}

// NewManager 通过一组凭证和 URL 创建管理器
func NewManager(apiKey, apiSecret, baseURL string) *Manager {
	apiClient := &APIClient{
		credentials: NewCredentials(apiKey, apiSecret),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
	}
	return &Manager{
		Order:   NewOrderClient(apiClient),
		Account: NewAccountClient(apiClient),
	}
}
