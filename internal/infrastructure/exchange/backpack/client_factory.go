package backpack

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

const exchangeName = "backpack"

// ===== Credentials 凭证 =====

// Credentials 包含 Backpack API 凭证和签名方法。
// Backpack 用 ED25519 而不是 HMAC：api_key 是 base64 公钥，
// secret_key 是 base64 的 32 字节私钥种子
type Credentials struct {
	apiKey     string
	privateKey ed25519.PrivateKey
}

// NewCredentials 创建凭证对象，种子非法时签名密钥为空
func NewCredentials(apiKey, apiSecret string) *Credentials {
	c := &Credentials{apiKey: strings.TrimSpace(apiKey)}
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(apiSecret))
	if err == nil && len(seed) == ed25519.SeedSize {
		c.privateKey = ed25519.NewKeyFromSeed(seed)
	}
	return c
}

// Sign 生成 ED25519 签名（base64）
func (c *Credentials) Sign(message string) string {
	if c.privateKey == nil {
		return ""
	}
	sig := ed25519.Sign(c.privateKey, []byte(message))
	return base64.StdEncoding.EncodeToString(sig)
}

// APIKey 返回 API Key（base64 公钥）
func (c *Credentials) APIKey() string {
	return c.apiKey
}

// CanSign 凭证是否可用于签名
func (c *Credentials) CanSign() bool {
	return c.privateKey != nil
}

// APIClient 封装访问 Backpack REST API 所需的共享依赖
type APIClient struct {
	credentials *Credentials
	httpClient  *http.Client
	baseURL     string
}

// ===== Manager 结构 =====

// Manager Backpack 统一管理器。
// 现货和永续走同一个域名同一套签名，用 symbol 后缀区分市场
type Manager struct {
	Order   *OrderClient
	Account *AccountClient
}

// NewManager 创建 Backpack 管理器
func NewManager(apiKey, apiSecret, baseURL string) *Manager {
	apiClient := &APIClient{
		credentials: NewCredentials(apiKey, apiSecret),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	return &Manager{
		Order:   NewOrderClient(apiClient),
		Account: NewAccountClient(apiClient),
	}
}
