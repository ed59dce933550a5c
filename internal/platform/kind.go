package platform

import (
	"net"
	"strings"
	"sync"

	"github.com/mdlayher/wifi"
	"go.uber.org/zap"
)

// InterfaceKind is the link technology behind a network interface.
type InterfaceKind string

const (
	KindUnknown  InterfaceKind = "unknown"
	KindWired    InterfaceKind = "wired"
	KindWireless InterfaceKind = "wireless"
	KindCellular InterfaceKind = "cellular"
	KindLoopback InterfaceKind = "loopback"
	KindTunnel   InterfaceKind = "tunnel"
)

// Name prefixes used when the OS gives no better signal.
var (
	cellularPrefixes = []string{"wwan", "rmnet", "ccmni", "pdp_ip", "qmimux", "mhi"}
	wirelessPrefixes = []string{"wlan", "wlp", "wlx", "wl", "ath"}
	tunnelPrefixes   = []string{"tun", "tap", "utun", "wg", "ppp", "ipsec", "gif", "stf"}
)

// wifiLister is the part of *wifi.Client the classifier uses.
type wifiLister interface {
	Interfaces() ([]*wifi.Interface, error)
	Close() error
}

// kindClassifier maps interfaces to their kind. Wireless interfaces come
// from nl80211 where available; everything else falls back to sysfs and
// interface names.
type kindClassifier struct {
	logger *zap.Logger
	wifi   wifiLister
	sysfs  func(name string) InterfaceKind

	mu       sync.RWMutex
	wireless map[string]bool
}

func newKindClassifier(logger *zap.Logger) *kindClassifier {
	k := &kindClassifier{
		logger:   logger,
		sysfs:    sysfsKind,
		wireless: make(map[string]bool),
	}
	c, err := wifi.New()
	if err != nil {
		logger.Debug("wifi interface listing unavailable", zap.Error(err))
	} else {
		k.wifi = c
	}
	k.refresh()
	return k
}

// refresh reloads the set of wireless interface names.
func (k *kindClassifier) refresh() {
	if k.wifi == nil {
		return
	}
	ifis, err := k.wifi.Interfaces()
	if err != nil {
		k.logger.Debug("failed to list wifi interfaces", zap.Error(err))
		return
	}
	wireless := make(map[string]bool, len(ifis))
	for _, ifi := range ifis {
		if ifi.Name != "" {
			wireless[ifi.Name] = true
		}
	}
	k.mu.Lock()
	k.wireless = wireless
	k.mu.Unlock()
}

func (k *kindClassifier) classify(iface net.Interface) InterfaceKind {
	if iface.Flags&net.FlagLoopback != 0 {
		return KindLoopback
	}

	k.mu.RLock()
	wireless := k.wireless[iface.Name]
	k.mu.RUnlock()
	if wireless {
		return KindWireless
	}

	if k.sysfs != nil {
		if kind := k.sysfs(iface.Name); kind != KindUnknown {
			return kind
		}
	}
	return kindFromName(iface.Name, iface.Flags)
}

func (k *kindClassifier) Close() error {
	if k.wifi == nil {
		return nil
	}
	return k.wifi.Close()
}

func kindFromName(name string, flags net.Flags) InterfaceKind {
	switch {
	case hasAnyPrefix(name, cellularPrefixes):
		return KindCellular
	case hasAnyPrefix(name, tunnelPrefixes), flags&net.FlagPointToPoint != 0:
		return KindTunnel
	case hasAnyPrefix(name, wirelessPrefixes):
		return KindWireless
	default:
		return KindWired
	}
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
