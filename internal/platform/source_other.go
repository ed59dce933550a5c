//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package platform

func newNativeSource() (changeSource, error) { return nil, errNoNativeSource }
