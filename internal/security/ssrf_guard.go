// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrInvalidURL はURLの形式やスキームが不正な場合に返される。
var ErrInvalidURL = errors.New("invalid url")

// ErrBlockedDestination はURLの宛先がSSRF防止ポリシーで拒否された場合に返される。
var ErrBlockedDestination = errors.New("blocked destination")

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// フィード登録時のフィード検出と、パイプライン実行時のフィード取得の両方で使用される。
type SSRFGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// DNS解決後のIPアドレスも検証されるため、DNS再バインディング攻撃にも対応する。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はURLの安全性を事前に検証する。
	// 形式・スキームの問題はErrInvalidURL、宛先の問題はErrBlockedDestinationを包んで返す。
	ValidateURL(rawURL string) error
}

// allowedSchemes はSSRF防止で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はSSRF防止でブロックされるネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// CGNAT (RFC 6598)
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostnames はブロック対象のホスト名。
// 音声合成などでGoogle Cloudを利用するため、GCPのメタデータサーバー名も拒否する。
var blockedHostnames = []string{
	"localhost",
	"metadata",
	"metadata.google.internal",
}

// SSRFGuardConfig はSSRFガードの設定を保持する。
type SSRFGuardConfig struct {
	// AllowedPorts は接続を許可するポート。空の場合は80と443のみ。
	AllowedPorts []int
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct {
	allowedPorts []int
}

// NewSSRFGuard はデフォルト設定（80/443のみ許可）のSSRFGuardServiceを生成する。
func NewSSRFGuard() *ssrfGuard {
	return NewSSRFGuardWithConfig(SSRFGuardConfig{})
}

// NewSSRFGuardWithConfig は指定された設定でSSRFGuardServiceを生成する。
func NewSSRFGuardWithConfig(cfg SSRFGuardConfig) *ssrfGuard {
	ports := cfg.AllowedPorts
	if len(ports) == 0 {
		ports = []int{80, 443}
	}
	return &ssrfGuard{allowedPorts: slices.Clone(ports)}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証する。
// maxResponseSizeは呼び出し側でio.LimitReaderに適用すること。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証のため、DNS再バインディングはNewSafeClient側で防止される。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("%w: disallowed scheme %q (allowed: %v)", ErrInvalidURL, scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host in URL: %s", ErrInvalidURL, rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked IP address: %s", ErrBlockedDestination, ip.String())
		}
		return nil
	}

	if slices.Contains(blockedHostnames, strings.ToLower(strings.TrimSuffix(host, "."))) {
		return fmt.Errorf("%w: blocked host: %s", ErrBlockedDestination, host)
	}

	return nil
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
