package daktela

import (
	stringpool "github.com/keboola/component-daktela/pkg/strings"
)

// DateFilter restricts a list call to records whose field falls inside a
// closed window: From is inclusive (gte), To is inclusive (lte).
type DateFilter struct {
	Field string
	From  string
	To    string
}

// Empty reports whether the filter carries no usable bound.
func (f DateFilter) Empty() bool {
	return f.Field == "" || (f.From == "" && f.To == "")
}

// Apply encodes the filter onto the list URL. A single bound uses the flat
// filter[field|operator|value] form; two bounds use the indexed conjunction
// form the API expects:
//
//	filter[logic]=and
//	filter[filters][0][field]=edited ... operator=gte ... value=From
//	filter[filters][1][field]=edited ... operator=lte ... value=To
func (f DateFilter) Apply(ub *stringpool.URLBuilder) {
	if f.Empty() {
		return
	}

	if f.From != "" && f.To != "" {
		ub.AddParam("filter[logic]", "and")
		ub.AddParam("filter[filters][0][field]", f.Field)
		ub.AddParam("filter[filters][0][operator]", "gte")
		ub.AddParam("filter[filters][0][value]", f.From)
		ub.AddParam("filter[filters][1][field]", f.Field)
		ub.AddParam("filter[filters][1][operator]", "lte")
		ub.AddParam("filter[filters][1][value]", f.To)
		return
	}

	ub.AddParam("filter[field]", f.Field)
	if f.From != "" {
		ub.AddParam("filter[operator]", "gte")
		ub.AddParam("filter[value]", f.From)
	} else {
		ub.AddParam("filter[operator]", "lte")
		ub.AddParam("filter[value]", f.To)
	}
}
