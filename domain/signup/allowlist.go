package signup

import (
	"strings"

	"github.com/akeren/waitlist-gate/pkg/constants"
)

// DomainAllowList restricts signups to a fixed set of email domains. A nil
// list allows everything.
type DomainAllowList struct {
	domains map[string]struct{}
}

// NewDomainAllowList returns nil when domains contains "*", which disables the restriction.
// An empty slice selects the default consumer providers.
func NewDomainAllowList(domains []string) *DomainAllowList {
	if len(domains) == 0 {
		domains = constants.DefaultAllowedEmailDomains
	}

	list := &DomainAllowList{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d == "*" {
			return nil
		}
		if d != "" {
			list.domains[d] = struct{}{}
		}
	}
	return list
}

func (l *DomainAllowList) Allows(email string) bool {
	if l == nil {
		return true
	}

	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}

	_, ok := l.domains[strings.ToLower(strings.TrimSpace(email[at+1:]))]
	return ok
}
