//go:build !linux

package platform

// sysfsKind has nothing to read outside Linux; names decide.
func sysfsKind(string) InterfaceKind { return KindUnknown }
