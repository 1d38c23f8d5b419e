package social

import "sync"

// Provider 进程内唯一的客户端，首次使用时才创建。
// 构造用锁保护；创建后的 Client 自身只在 token 上加锁，调用方不要修改其内部状态。
type Provider struct {
	creds Credentials
	build func(Credentials) *Client

	mu     sync.Mutex
	client *Client
}

func NewProvider(creds Credentials, build func(Credentials) *Client) *Provider {
	return &Provider{creds: creds, build: build}
}

// Client 未配置任何凭证时返回 ErrNoCredentials
func (p *Provider) Client() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if !p.creds.Valid() {
		return nil, ErrNoCredentials
	}
	p.client = p.build(p.creds)
	return p.client, nil
}

// Source 与 Client 相同，但以接口形式返回，便于 HTTP 层注入替身
func (p *Provider) Source() (Source, error) {
	c, err := p.Client()
	if err != nil {
		return nil, err
	}
	return c, nil
}
