package config

import (
	"fmt"
	"sort"
)

// IdentitySource is the endpoint whose records establish the set of valid
// parent ids for dependent extraction.
const IdentitySource = "activities"

// Endpoint describes one extractable Daktela endpoint.
type Endpoint struct {
	// Name is the logical endpoint name and default request path segment
	Name string `yaml:"name" json:"name"`
	// Path overrides the request path, empty means derive from Name
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Parent names the endpoint whose record ids drive dependent calls
	Parent string `yaml:"parent,omitempty" json:"parent,omitempty"`
	// ChildPath is the sub-resource segment of dependent calls,
	// e.g. activities/{id}/call
	ChildPath string `yaml:"child_path,omitempty" json:"child_path,omitempty"`
	// PrimaryKeys are joined to synthesize the output id column
	PrimaryKeys []string `yaml:"primary_keys" json:"primary_keys"`
	// SecondaryKeys extend the id when present on a record
	SecondaryKeys []string `yaml:"secondary_keys,omitempty" json:"secondary_keys,omitempty"`
	// DateField is the record field the date window filters on,
	// empty means the endpoint is not date-filterable
	DateField string `yaml:"date_field,omitempty" json:"date_field,omitempty"`
	// Fields restricts the fetched fields, empty fetches everything
	Fields []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	// ListColumns names fields holding scalar lists, exploded into one row
	// per element in this order
	ListColumns []string `yaml:"list_columns,omitempty" json:"list_columns,omitempty"`
	// ObjectListColumns names fields holding lists of objects, exploded
	// with the object keys injected as <column>_<key> columns
	ObjectListColumns []string `yaml:"list_of_dicts_columns,omitempty" json:"list_of_dicts_columns,omitempty"`
}

// IsDependent reports whether extraction of this endpoint requires parent ids.
func (e Endpoint) IsDependent() bool {
	return e.Parent != ""
}

// RequestPath returns the path segment used for list calls.
func (e Endpoint) RequestPath() string {
	if e.Path != "" {
		return e.Path
	}
	return e.Name
}

// builtinEndpoints is the endpoint catalog shipped with the extractor.
// activitiesCall is keyed by id_call because Daktela call records reuse
// activity names across channels.
var builtinEndpoints = []Endpoint{
	{Name: "users", PrimaryKeys: []string{"name"}},
	{Name: "accounts", PrimaryKeys: []string{"name"}},
	{Name: "contacts", PrimaryKeys: []string{"name"}, DateField: "edited"},
	{Name: "tickets", PrimaryKeys: []string{"name"}, DateField: "edited"},
	{Name: "ticketsCategories", PrimaryKeys: []string{"name"}},
	{Name: "statuses", PrimaryKeys: []string{"name"}},
	{Name: "activities", PrimaryKeys: []string{"name"}, DateField: "edited"},
	{
		Name:          "activitiesCall",
		Parent:        "activities",
		ChildPath:     "call",
		PrimaryKeys:   []string{"id_call"},
		SecondaryKeys: []string{"name"},
	},
}

// BuiltinEndpoints returns a copy of the endpoint catalog.
func BuiltinEndpoints() []Endpoint {
	out := make([]Endpoint, len(builtinEndpoints))
	copy(out, builtinEndpoints)
	return out
}

// BuiltinEndpointNames returns the catalog names in stable order.
func BuiltinEndpointNames() []string {
	names := make([]string, 0, len(builtinEndpoints))
	for _, e := range builtinEndpoints {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// loadCatalog returns the endpoint catalog of a selection: the built-in
// table, or the YAML file named by endpoint_definitions.
func loadCatalog(sel DataSelectionConfig) ([]Endpoint, error) {
	if sel.EndpointDefinitions == "" {
		return BuiltinEndpoints(), nil
	}

	var defs []Endpoint
	if err := Load(sel.EndpointDefinitions, &defs); err != nil {
		return nil, fmt.Errorf("failed to load endpoint definitions: %w", err)
	}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("endpoint definition without a name in %s", sel.EndpointDefinitions)
		}
		if len(def.PrimaryKeys) == 0 {
			return nil, fmt.Errorf("endpoint %q defines no primary keys", def.Name)
		}
		if def.IsDependent() && def.ChildPath == "" {
			return nil, fmt.Errorf("dependent endpoint %q defines no child path", def.Name)
		}
	}
	return defs, nil
}

// ResolveEndpoints expands the selection into concrete endpoint definitions.
// An empty selection means the whole catalog. Parents of selected dependent
// endpoints are included automatically so their id sets exist. Field
// restrictions and path overrides from the data selection are applied.
// Selected names missing from the catalog are skipped and returned so the
// caller can warn about them.
func ResolveEndpoints(sel DataSelectionConfig) ([]Endpoint, []string, error) {
	catalog, err := loadCatalog(sel)
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]Endpoint, len(catalog))
	for _, e := range catalog {
		byName[e.Name] = e
	}

	names := sel.Endpoints
	if len(names) == 0 {
		names = make([]string, 0, len(catalog))
		for _, e := range catalog {
			names = append(names, e.Name)
		}
	}

	selected := make(map[string]bool, len(names))
	ordered := make([]string, 0, len(names))
	var unknown []string
	var add func(name string) error
	add = func(name string) error {
		if selected[name] {
			return nil
		}
		def := byName[name]
		// Parents come first so dependency waves see them scheduled
		if def.Parent != "" {
			if _, ok := byName[def.Parent]; !ok {
				return fmt.Errorf("endpoint %q references unknown parent %q", name, def.Parent)
			}
			if err := add(def.Parent); err != nil {
				return err
			}
		}
		selected[name] = true
		ordered = append(ordered, name)
		return nil
	}

	for _, name := range names {
		if _, ok := byName[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		if err := add(name); err != nil {
			return nil, nil, err
		}
	}

	out := make([]Endpoint, 0, len(ordered))
	for _, name := range ordered {
		def := byName[name]
		if fields, ok := sel.Fields[name]; ok {
			def.Fields = fields
		}
		if path, ok := sel.PathOverrides[name]; ok {
			def.Path = path
		}
		out = append(out, def)
	}
	return out, unknown, nil
}
