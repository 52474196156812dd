package gate

// Classification is the access-list verdict for one address.
type Classification int

const (
	Unclassified Classification = iota
	Allowed
	Denied
)

func (c Classification) String() string {
	switch c {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unclassified"
	}
}

// AccessListFilter matches addresses against the operator allow and deny lists.
// Matching is exact and case-sensitive; an address on both lists is allowed.
type AccessListFilter struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

func NewAccessListFilter(allow, deny []string) *AccessListFilter {
	return &AccessListFilter{
		allow: toSet(allow),
		deny:  toSet(deny),
	}
}

func (f *AccessListFilter) Classify(address string) Classification {
	if _, ok := f.allow[address]; ok {
		return Allowed
	}
	if _, ok := f.deny[address]; ok {
		return Denied
	}
	return Unclassified
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
