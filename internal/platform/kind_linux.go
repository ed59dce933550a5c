//go:build linux

package platform

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// sysfsRoot is overridden in tests.
var sysfsRoot = "/sys/class/net"

// sysfsKind reads the kernel's device type for an interface.
func sysfsKind(name string) InterfaceKind {
	dir := filepath.Join(sysfsRoot, name)

	if f, err := os.Open(filepath.Join(dir, "uevent")); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			devtype, ok := strings.CutPrefix(scanner.Text(), "DEVTYPE=")
			if !ok {
				continue
			}
			switch devtype {
			case "wwan":
				return KindCellular
			case "wlan":
				return KindWireless
			case "ppp", "wireguard", "tun", "vlan_tunnel":
				return KindTunnel
			}
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "wireless")); err == nil {
		return KindWireless
	}
	return KindUnknown
}
