// Package security guards outbound fetches of image locators.
package security

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"pixelchat/internal/domain"
)

// privateRanges are the CIDR blocks a guarded fetch may not reach.
var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var parsedRanges []*net.IPNet

func init() {
	for _, cidr := range privateRanges {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		parsedRanges = append(parsedRanges, ipnet)
	}
}

// IsPrivateIP reports whether ip is loopback, link-local or in a private range.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range parsedRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckLocatorURL rejects non-http(s) URLs and URLs whose host is a literal
// private address. Host names are checked at dial time by GuardDialer.
func CheckLocatorURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.NewDomainError("CheckLocatorURL", domain.ErrFetchBlocked, fmt.Sprintf("invalid URL: %v", err))
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return domain.NewDomainError("CheckLocatorURL", domain.ErrFetchBlocked,
			fmt.Sprintf("scheme %q not allowed", u.Scheme))
	}
	host := u.Hostname()
	if host == "" {
		return domain.NewDomainError("CheckLocatorURL", domain.ErrFetchBlocked, "empty hostname")
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
		return domain.NewDomainError("CheckLocatorURL", domain.ErrFetchBlocked,
			fmt.Sprintf("IP %s is private", ip))
	}
	return nil
}

// DialFunc matches http.Transport.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// GuardDialer resolves the host once, rejects the dial if any resolved
// address is private, then connects to the first address directly so a
// second lookup cannot return a different answer.
func GuardDialer(dialer *net.Dialer, resolver *net.Resolver) DialFunc {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		ips, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", host, err)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("lookup %s: no addresses", host)
		}
		for _, ip := range ips {
			if IsPrivateIP(ip.IP) {
				return nil, domain.NewDomainError("GuardDialer", domain.ErrFetchBlocked,
					fmt.Sprintf("%s resolves to private IP %s", host, ip.IP))
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
	}
}
