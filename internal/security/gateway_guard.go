// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeGatewayURL は通知ゲートウェイのURLが送信先として許可されないことを示す。
var ErrUnsafeGatewayURL = errors.New("security: unsafe gateway URL")

// GatewayGuard は確認コードを送るメールAPI・SMSゲートウェイへの通信を制限する。
// 送信時はsafeurlのDialerが解決後のIPを検証し、起動時はValidateURLで設定値を静的に検証する。
type GatewayGuard interface {
	NewSafeClient(timeout time.Duration) *http.Client
	ValidateURL(rawURL string) error
}

// gatewayPort はゲートウェイに許可する唯一のポート。APIキーを送るためHTTPSに限定する。
const gatewayPort = 443

var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータ (169.254.169.254) を含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

// blockedHostSuffixes は内部ネットワークを指すホスト名の接尾辞。
var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

type gatewayGuard struct{}

// NewSSRFGuard はGatewayGuardを生成する。
func NewSSRFGuard() *gatewayGuard {
	return &gatewayGuard{}
}

// NewSafeClient はHTTPS・443番ポートのみに接続するHTTPクライアントを生成する。
// プライベートIP、ループバック、リンクローカルへの接続はDNS解決後に拒否される。
func (g *gatewayGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(gatewayPort).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はゲートウェイURLを静的に検証する。
// 認証情報はAPIキーヘッダーで渡すため、URL内のユーザー情報も拒否する。
func (g *gatewayGuard) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeGatewayURL, err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q is not https", ErrUnsafeGatewayURL, parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrUnsafeGatewayURL)
	}
	if port := parsed.Port(); port != "" && port != fmt.Sprint(gatewayPort) {
		return fmt.Errorf("%w: port %s is not allowed", ErrUnsafeGatewayURL, port)
	}

	host := strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeGatewayURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked address %s", ErrUnsafeGatewayURL, ip)
		}
		return nil
	}
	if host == "localhost" || !strings.Contains(host, ".") {
		return fmt.Errorf("%w: host %q is not a public name", ErrUnsafeGatewayURL, host)
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: host %q is internal", ErrUnsafeGatewayURL, host)
		}
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	if ip.IsUnspecified() {
		return true
	}
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

var _ GatewayGuard = (*gatewayGuard)(nil)
