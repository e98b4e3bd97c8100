package host

import "github.com/streamspace/pulsehost/internal/hosterr"

func errAPIVersionMismatch(name string, got uint64) error {
	return hosterr.ParameterCorruptedf("plugin %q declares api_version %d, host is %d", name, got, HostAPIVersion)
}

func errIdentityMismatch(name string) error {
	return hosterr.ParameterCorruptedf("plugin %q description id does not match its own name hash", name)
}

func errSymbolMissing(name, symbol string, cause error) error {
	return hosterr.ParameterCorruptedf("plugin %q missing required symbol %q: %v", name, symbol, cause)
}

func errSymbolShape(name, symbol string) error {
	return hosterr.ParameterCorruptedf("plugin %q symbol %q has the wrong signature", name, symbol)
}
