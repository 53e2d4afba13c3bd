package access

import (
	"net/netip"
	"strings"
)

// RestrictionIPAllowlist limits a grant to a comma-separated list of
// addresses or CIDR prefixes.
const RestrictionIPAllowlist = "ip_allowlist"

func validateRestrictions(r map[string]string) error {
	raw, ok := r[RestrictionIPAllowlist]
	if !ok {
		return nil
	}
	if _, err := parseAllowlist(raw); err != nil {
		return &FieldError{Field: "restrictions." + RestrictionIPAllowlist, Message: err.Error()}
	}
	return nil
}

func parseAllowlist(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

// addressAllowed reports whether ip satisfies the grant's allow-list. Grants
// without one allow any address; an unparsable address never matches a list.
func addressAllowed(g AccessGrant, ip string) bool {
	raw, ok := g.Restrictions[RestrictionIPAllowlist]
	if !ok || strings.TrimSpace(raw) == "" {
		return true
	}
	prefixes, err := parseAllowlist(raw)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
