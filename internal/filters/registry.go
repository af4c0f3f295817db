package filters

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/stacklok/facet-query-server/internal/config"
)

// ErrConfiguration is returned when a collection or its filter configuration
// is unknown or invalid.
var ErrConfiguration = errors.New("configuration error")

// Registry maps collection names to their filter configuration. It is safe
// for concurrent use because it is never modified after NewRegistry returns.
type Registry struct {
	collections map[string]*Configuration
}

// NewRegistry builds and validates the filter configuration of every collection
func NewRegistry(collections []config.CollectionConfig) (*Registry, error) {
	r := &Registry{collections: make(map[string]*Configuration, len(collections))}

	for i := range collections {
		cc := &collections[i]
		if _, dup := r.collections[cc.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate collection %q", ErrConfiguration, cc.Name)
		}

		cfg, err := newConfiguration(cc)
		if err != nil {
			return nil, fmt.Errorf("%w: collection %q: %w", ErrConfiguration, cc.Name, err)
		}
		r.collections[cc.Name] = cfg
	}

	return r, nil
}

// Describe returns the filter configuration of a collection
func (r *Registry) Describe(collection string) (*Configuration, error) {
	cfg, ok := r.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: unknown collection %q", ErrConfiguration, collection)
	}
	return cfg, nil
}

// Collections returns the registered collection names, sorted
func (r *Registry) Collections() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newConfiguration(cc *config.CollectionConfig) (*Configuration, error) {
	if cc.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(cc.Columns) == 0 {
		return nil, fmt.Errorf("at least one column is required")
	}

	cfg := &Configuration{
		Collection:     cc.Name,
		Table:          cc.GetTable(),
		Columns:        slices.Clone(cc.Columns),
		IndexedColumns: slices.Clone(cc.IndexedColumns),
		SearchColumns:  slices.Clone(cc.SearchColumns),
		DefaultSort: Sort{
			Column:    cc.DefaultSort.Column,
			Direction: ParseDirection(cc.DefaultSort.Direction),
		},
		descriptors: make([]Descriptor, 0, len(cc.Filters)),
		index:       make(map[string]int, len(cc.Filters)),
	}

	if !cfg.IsSortable(cfg.DefaultSort.Column) {
		return nil, fmt.Errorf("default sort column %q is neither projected nor indexed", cfg.DefaultSort.Column)
	}
	for _, col := range cfg.SearchColumns {
		if !cfg.IsProjected(col) {
			return nil, fmt.Errorf("search column %q is not a projected column", col)
		}
	}

	for _, fc := range cc.Filters {
		d, err := newDescriptor(fc)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", fc.Key, err)
		}
		for _, col := range d.Columns {
			if !cfg.IsSortable(col) {
				return nil, fmt.Errorf("filter %q: column %q is neither projected nor indexed", d.Key, col)
			}
		}
		if _, dup := cfg.index[d.Key]; dup {
			return nil, fmt.Errorf("duplicate filter key %q", d.Key)
		}
		cfg.index[d.Key] = len(cfg.descriptors)
		cfg.descriptors = append(cfg.descriptors, d)
	}

	if err := validateDependencies(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newDescriptor(fc config.FilterConfig) (Descriptor, error) {
	if fc.Key == "" {
		return Descriptor{}, fmt.Errorf("key is required")
	}
	if len(fc.Columns) == 0 {
		return Descriptor{}, fmt.Errorf("at least one column is required")
	}

	op, err := parseOperator(fc.Operator)
	if err != nil {
		return Descriptor{}, err
	}
	kind, err := parseKind(fc.Kind)
	if err != nil {
		return Descriptor{}, err
	}
	order, err := parseOrder(fc.Order)
	if err != nil {
		return Descriptor{}, err
	}
	if op == OpILike && kind != KindString {
		return Descriptor{}, fmt.Errorf("operator %s requires kind %s", op, KindString)
	}
	label, err := newLabelFormat(fc.Label)
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{
		Key:       fc.Key,
		Columns:   slices.Clone(fc.Columns),
		Operator:  op,
		Kind:      kind,
		DependsOn: fc.DependsOn,
		Order:     order,
		Label:     label,
	}, nil
}

// validateDependencies checks that every prerequisite exists and that
// prerequisite chains terminate.
func validateDependencies(cfg *Configuration) error {
	for _, d := range cfg.descriptors {
		if d.DependsOn == "" {
			continue
		}
		if d.DependsOn == d.Key {
			return fmt.Errorf("filter %q depends on itself", d.Key)
		}
		if _, ok := cfg.index[d.DependsOn]; !ok {
			return fmt.Errorf("filter %q depends on unknown filter %q", d.Key, d.DependsOn)
		}

		seen := map[string]bool{d.Key: true}
		next := d.DependsOn
		for next != "" {
			if seen[next] {
				return fmt.Errorf("filter %q has a dependency cycle through %q", d.Key, next)
			}
			seen[next] = true
			next = cfg.descriptors[cfg.index[next]].DependsOn
		}
	}
	return nil
}
