package gate

import (
	"net/netip"
	"strings"
)

// domainMatcher stores exact hosts, suffix wildcards and CIDR ranges derived
// from configuration. IP literals in URLs are matched against the ranges;
// hostnames are never resolved.
type domainMatcher struct {
	exact    map[string]struct{}
	suffixes []string
	prefixes []netip.Prefix
}

func newDomainMatcher(patterns []string) *domainMatcher {
	matcher := &domainMatcher{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(value); err == nil {
			matcher.prefixes = append(matcher.prefixes, prefix.Masked())
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[strings.Trim(value, "[]")] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 && len(matcher.prefixes) == 0 {
		return nil
	}
	return matcher
}

func (m *domainMatcher) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

// Match reports whether host equals an exact entry, falls under a wildcard
// suffix, or is an IP literal inside a configured range. With subdomains set,
// exact entries also cover their subdomains.
func (m *domainMatcher) Match(host string, subdomains bool) bool {
	if m == nil {
		return false
	}
	host = strings.Trim(strings.TrimSpace(strings.ToLower(host)), "[]")
	if host == "" {
		return false
	}
	if _, exact := m.exact[host]; exact {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	if subdomains {
		for entry := range m.exact {
			if strings.HasSuffix(host, "."+entry) {
				return true
			}
		}
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, prefix := range m.prefixes {
			if prefix.Contains(addr) {
				return true
			}
		}
	}
	return false
}
