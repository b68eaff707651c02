package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/payroll-engine/tax"
	"gopkg.in/yaml.v3"
)

// TaxTablesFile is the layout of a seed file:
//
//	tax_tables:
//	  - id: NG-OG-nta-2025
//	    preset: nta_2025
//	    jurisdiction: NG-OG
//	    effective_from: 2026-01-01
//
// Each entry uses the same fields as the JSON schema.
type TaxTablesFile struct {
	TaxTables []map[string]any `yaml:"tax_tables"`
}

// ParseTaxTablesYAML parses a seed file into validated tables. The first
// invalid entry fails the whole file.
func (f *TaxTableFactory) ParseTaxTablesYAML(data []byte) ([]*tax.TaxTable, error) {
	var file TaxTablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tax tables YAML: %w", err)
	}

	tables := make([]*tax.TaxTable, 0, len(file.TaxTables))
	for i, raw := range file.TaxTables {
		// Money and rates only know how to decode from JSON.
		b, err := json.Marshal(normalizeYAML(raw))
		if err != nil {
			return nil, fmt.Errorf("tax_tables[%d]: %w", i, err)
		}
		var tj TaxTableJSON
		if err := json.Unmarshal(b, &tj); err != nil {
			return nil, fmt.Errorf("tax_tables[%d]: %w", i, err)
		}
		table, err := f.FromJSON(tj)
		if err != nil {
			return nil, fmt.Errorf("tax_tables[%d] %s: %w", i, tj.ID, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// normalizeYAML turns unquoted YAML dates back into YYYY-MM-DD strings.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format("2006-01-02")
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalizeYAML(val)
		}
		return out
	}
	return v
}
