package transport

import "strings"

// DefaultMatch is the name/manufacturer substring identifying the device.
const DefaultMatch = "Quirkbot"

// Filter selects the ports that belong to supported devices.
type Filter struct {
	// Match lists substrings; a port is valid when its name or
	// manufacturer contains any of them
	Match []string
}

// DefaultFilter returns a filter matching DefaultMatch.
func DefaultFilter() Filter {
	return Filter{Match: []string{DefaultMatch}}
}

// Accept reports whether a port is connected and matches the filter.
func (f Filter) Accept(p Port) bool {
	if !p.Connected() {
		return false
	}
	for _, m := range f.Match {
		if m == "" {
			continue
		}
		if strings.Contains(p.Name, m) || strings.Contains(p.Manufacturer, m) {
			return true
		}
	}
	return false
}

// Valid returns the ports accepted by the filter, keeping their order.
func (f Filter) Valid(ports []Port) []Port {
	out := make([]Port, 0, len(ports))
	for _, p := range ports {
		if f.Accept(p) {
			out = append(out, p)
		}
	}
	return out
}

// ValidInputs lists the transport inputs accepted by the filter.
func (f Filter) ValidInputs(t Transport) ([]Port, error) {
	ports, err := t.Inputs()
	if err != nil {
		return nil, err
	}
	return f.Valid(ports), nil
}

// ValidOutputs lists the transport outputs accepted by the filter.
func (f Filter) ValidOutputs(t Transport) ([]Port, error) {
	ports, err := t.Outputs()
	if err != nil {
		return nil, err
	}
	return f.Valid(ports), nil
}
