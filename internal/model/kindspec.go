package model

// KindSpec is the capability set for one entity kind: how it is displayed
// and what its research procedure should focus on. One generic job subsystem
// is parameterized by this instead of per-kind copies.
type KindSpec struct {
	Kind          Kind
	Label         string
	Plural        string
	ResearchFocus string
}

var kindSpecs = map[Kind]KindSpec{
	KindHealthSystem: {
		Kind:          KindHealthSystem,
		Label:         "Health System",
		Plural:        "health systems",
		ResearchFocus: "system size, hospital count, care settings, innovation arm, recent venture and partnership activity",
	},
	KindCompany: {
		Kind:          KindCompany,
		Label:         "Company",
		Plural:        "companies",
		ResearchFocus: "product, customers, funding history, leadership, clinical evidence, competitive landscape",
	},
	KindCoInvestor: {
		Kind:          KindCoInvestor,
		Label:         "Co-Investor",
		Plural:        "co-investors",
		ResearchFocus: "fund size, stage focus, healthcare thesis, notable portfolio companies, typical check size",
	},
}

// SpecFor returns the capability set for a kind. Unknown kinds get a zero
// spec with the raw kind echoed back.
func SpecFor(k Kind) KindSpec {
	if s, ok := kindSpecs[k]; ok {
		return s
	}
	return KindSpec{Kind: k, Label: string(k), Plural: string(k)}
}
