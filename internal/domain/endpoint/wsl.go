package endpoint

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// IsWSL reports whether the process is running inside WSL, detected by the
// standard /proc marker used throughout the Linux-on-Windows ecosystem.
func IsWSL() bool {
	b, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return false
	}
	s := strings.ToLower(string(b))
	return strings.Contains(s, "microsoft") || strings.Contains(s, "wsl")
}

// DefaultGatewayIP parses /proc/net/route for the default route (destination
// 00000000) and decodes its gateway field, which the kernel encodes as a
// little-endian hex-encoded uint32.
func DefaultGatewayIP() (string, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return "", fmt.Errorf("endpoint: open /proc/net/route: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		dest, gateway := fields[1], fields[2]
		if dest != "00000000" {
			continue
		}
		return hexToIPv4(gateway)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("endpoint: scan /proc/net/route: %w", err)
	}
	return "", fmt.Errorf("endpoint: no default route found")
}

// hexToIPv4 decodes a little-endian hex-encoded uint32 IPv4 address as
// published by /proc/net/route, e.g. "0102A8C0" -> "192.168.2.1".
func hexToIPv4(hex string) (string, error) {
	if len(hex) != 8 {
		return "", fmt.Errorf("endpoint: malformed route field %q", hex)
	}
	octets := make([]byte, 4)
	for i := 0; i < 4; i++ {
		// Little-endian: byte i of the address is hex chars [2i, 2i+2),
		// but stored most-significant-byte-last, so we read in reverse.
		v, err := strconv.ParseUint(hex[2*i:2*i+2], 16, 8)
		if err != nil {
			return "", fmt.Errorf("endpoint: parse route field %q: %w", hex, err)
		}
		octets[3-i] = byte(v)
	}
	return fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3]), nil
}

// normalizeWindowsPath rewrites an absolute Windows-style path (X:\...) to
// its WSL mount equivalent (/mnt/x/...), used when resolving project roots
// and connection-file paths supplied in a Windows-native form.
func normalizeWindowsPath(p string) string {
	if len(p) < 3 || p[1] != ':' || (p[2] != '\\' && p[2] != '/') {
		return p
	}
	drive := strings.ToLower(string(p[0]))
	rest := strings.ReplaceAll(p[3:], "\\", "/")
	return "/mnt/" + drive + "/" + rest
}
