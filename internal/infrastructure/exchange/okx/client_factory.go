package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"time"
)

const exchangeName = "okx"

// ===== Credentials 凭证 =====

// Credentials 包含 OKX API 凭证和签名方法
type Credentials struct {
	apiKey     string
	apiSecret  string
	passphrase string
}

// NewCredentials 创建凭证对象
func NewCredentials(apiKey, apiSecret, passphrase string) *Credentials {
	return &Credentials{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
	}
}

// Sign 生成 OKX HMAC-SHA256 签名
// OKX 签名: BASE64(HMAC-SHA256(timestamp + method + requestPath + body, secretKey))
func (c *Credentials) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// APIKey 返回 API Key
func (c *Credentials) APIKey() string {
	return c.apiKey
}

// Passphrase 返回 Passphrase
func (c *Credentials) Passphrase() string {
	return c.passphrase
}

// APIClient 封装访问 OKX REST API 所需的共享依赖
type APIClient struct {
	credentials *Credentials
	httpClient  *http.Client
	baseURL     string
}

// ===== Manager 结构 =====

// Manager OKX v5 统一账户管理器。
// 现货和合约走同一个域名同一套签名，用 instId/tdMode 区分市场
type Manager struct {
	Order   *OrderClient
	Account *AccountClient
}

// NewManager 创建 OKX v5 管理器
func NewManager(apiKey, apiSecret, passphrase, baseURL string) *Manager {
	apiClient := &APIClient{
		credentials: NewCredentials(apiKey, apiSecret, passphrase),
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
