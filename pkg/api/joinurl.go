package api

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// lanIPv4 is a var so tests can pin the detected address.
var lanIPv4 = detectLANIPv4

// joinURL builds the shareable link for a room. Hosts that only resolve on
// this machine (localhost and friends) are replaced with a best-effort LAN
// IPv4 so phones on the same network can open the link.
func (s *Server) joinURL(c *echo.Context, roomID string) string {
	hostname, port := splitHostPort(c.Request().Host)

	if s.cfg.PublicHost != "" {
		hostname = s.cfg.PublicHost
	} else if isLoopbackName(hostname) {
		if lan := lanIPv4(); lan != "" {
			hostname = lan
		}
	}

	scheme := requestScheme(c.Request())
	if port != "" {
		return fmt.Sprintf("%s://%s:%s/?room=%s", scheme, hostname, port, roomID)
	}
	return fmt.Sprintf("%s://%s/?room=%s", scheme, hostname, roomID)
}

// requestScheme honors a forwarding proxy's X-Forwarded-Proto before falling
// back to the connection's TLS state.
func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func splitHostPort(host string) (string, string) {
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return host, ""
	}
	return h, p
}

func isLoopbackName(hostname string) bool {
	switch strings.ToLower(hostname) {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return false
}

// detectLANIPv4 finds an address other machines on the network can reach.
// Platform tools first, then a UDP socket trick (no packet is sent), then
// DNS on the hostname. Empty when everything fails.
func detectLANIPv4() string {
	switch runtime.GOOS {
	case "darwin":
		for _, iface := range []string{"en0", "en1", "en2", "en3"} {
			out, err := exec.Command("ipconfig", "getifaddr", iface).Output()
			if err != nil {
				continue
			}
			if ip := validLANAddr(strings.TrimSpace(string(out))); ip != "" {
				return ip
			}
		}
	case "linux":
		if out, err := exec.Command("hostname", "-I").Output(); err == nil {
			for _, field := range strings.Fields(string(out)) {
				if ip := validLANAddr(field); ip != "" {
					return ip
				}
			}
		}
	}

	if conn, err := net.Dial("udp", "8.8.8.8:80"); err == nil {
		addr, ok := conn.LocalAddr().(*net.UDPAddr)
		_ = conn.Close()
		if ok {
			if ip := validLANAddr(addr.IP.String()); ip != "" {
				return ip
			}
		}
	}

	if hostname, err := os.Hostname(); err == nil {
		if ips, err := net.LookupIP(hostname); err == nil {
			for _, ip := range ips {
				if v := validLANAddr(ip.String()); v != "" {
					return v
				}
			}
		}
	}

	return ""
}

// validLANAddr keeps non-loopback IPv4 addresses and rejects the rest.
func validLANAddr(raw string) string {
	ip := net.ParseIP(raw)
	if ip == nil || ip.To4() == nil || ip.IsLoopback() {
		return ""
	}
	return ip.String()
}
