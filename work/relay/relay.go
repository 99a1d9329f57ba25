package relay

import (
	"net/url"

	"kptv-player/work/config"
)

// Direct is the reserved path name for fetching a URL without any relay.
const Direct = "direct"

// Relay is a single third-party forwarding service with its URL-wrapping
// convention. Each relay has a distinct way of encoding the target URL, so
// the wrapping lives here as a strategy rather than at call sites.
type Relay struct {
	Name   string
	prefix string
	encode bool // true: URL-encode the target after the prefix, false: append verbatim
}

// Table is the ordered set of relays the RPC layer may route through.
// The set and order come from configuration; replacing relays never
// touches the code that consumes them.
type Table struct {
	relays []Relay
	byName map[string]Relay
}

// NewTable builds a relay table from configuration. Unknown wrapping styles
// default to query-encoding, which every public CORS relay in the default
// set uses.
func NewTable(cfgs []config.RelayConfig) *Table {
	t := &Table{byName: make(map[string]Relay, len(cfgs))}
	for _, rc := range cfgs {
		r := Relay{
			Name:   rc.Name,
			prefix: rc.Prefix,
			encode: rc.Style != "path",
		}
		t.relays = append(t.relays, r)
		t.byName[r.Name] = r
	}
	return t
}

// Wrap produces the relay-forwarded form of target.
func (r Relay) Wrap(target string) string {
	if r.encode {
		return r.prefix + url.QueryEscape(target)
	}
	return r.prefix + target
}

// WrapURL wraps target with the named relay. The direct path and unknown
// relay names return the target unchanged.
func (t *Table) WrapURL(name, target string) string {
	if name == Direct {
		return target
	}
	r, ok := t.byName[name]
	if !ok {
		return target
	}
	return r.Wrap(target)
}

// Names returns the configured relay names in table order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.relays))
	for _, r := range t.relays {
		names = append(names, r.Name)
	}
	return names
}

// First returns the first configured relay name, or the direct path when
// the table is empty. Used for candidate generation, which always routes
// relayed candidates through the primary relay.
func (t *Table) First() string {
	if len(t.relays) == 0 {
		return Direct
	}
	return t.relays[0].Name
}

// Has reports whether the table knows the named relay.
func (t *Table) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// PathsFor returns the ordered list of network paths an RPC call should
// attempt for the given preferred path:
//
//   - preferred "direct": direct only — a caller that reaches the panel
//     directly gains nothing from relays, and relays only add failure modes
//   - preferred is the first relay: all relays in table order
//   - preferred is any other relay: that relay first, then the remaining
//     relays in table order
//
// Unknown names fall back to the direct-only list.
func (t *Table) PathsFor(preferred string) []string {
	if preferred == Direct {
		return []string{Direct}
	}
	if !t.Has(preferred) {
		return []string{Direct}
	}

	paths := []string{preferred}
	for _, r := range t.relays {
		if r.Name == preferred {
			continue
		}
		paths = append(paths, r.Name)
	}
	return paths
}
