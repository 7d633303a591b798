package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DUNL ingests JSON-LD vocabularies (units-of-measure and similar code
// lists): one fetch per document, one row per @graph node, with typed
// literals resolved preferring the "en" language tag.
type DUNL struct {
	logger *slog.Logger
}

var _ Adapter = (*DUNL)(nil)

// NewDUNL creates the DUNL JSON-LD adapter.
func NewDUNL(logger *slog.Logger) *DUNL {
	if logger == nil {
		logger = slog.Default()
	}

	return &DUNL{logger: logger}
}

// Name implements Adapter.
func (a *DUNL) Name() string { return "dunl" }

// Defaults implements Adapter.
func (a *DUNL) Defaults() FetchDefaults {
	return FetchDefaults{
		MaxConcurrency: 2,
		MaxRetries:     3,
		RateInterval:   time.Second,
		Timeout:        60 * time.Second,
	}
}

// Schema implements Adapter. The dataset tag names the table; the node IRI
// is the natural key within a vocabulary.
func (a *DUNL) Schema(cfg Config) (*Spec, error) {
	dataset, err := cfg.Require("dataset")
	if err != nil {
		return nil, err
	}

	tableName := NormalizeIdentifier("dunl_" + dataset)

	return &Spec{
		Source:      a.Name(),
		DatasetID:   dataset,
		TableName:   tableName,
		DisplayName: "DUNL " + dataset,
		Description: fmt.Sprintf("JSON-LD vocabulary nodes for the %s dataset", dataset),
		Columns: []Column{
			{Name: "node_id", Type: TypeText},
			{Name: "node_type", Type: TypeText, Nullable: true},
			{Name: "label", Type: TypeText, Nullable: true},
			{Name: "symbol", Type: TypeText, Nullable: true},
			{Name: "comment", Type: TypeText, Nullable: true},
			{Name: "conversion_factor", Type: TypeDouble, Nullable: true},
			{Name: "base_unit", Type: TypeText, Nullable: true},
		},
		UniqueKey: []string{"node_id"},
		Indexes:   [][]string{{"node_type"}},
	}, nil
}

// Plan implements Adapter: a single document fetch.
func (a *DUNL) Plan(cfg Config) (Planner, error) {
	docURL, err := cfg.Require("url")
	if err != nil {
		return nil, err
	}

	if _, err := cfg.Require("dataset"); err != nil {
		return nil, err
	}

	return Steps(Step{
		URL:     docURL,
		Method:  http.MethodGet,
		Headers: map[string]string{"Accept": "application/ld+json, application/json"},
		Page:    1,
	}), nil
}

// Parse implements Adapter: walk @graph and flatten each node. Documents
// that are themselves a bare node array are accepted too.
func (a *DUNL) Parse(step *Step, payload []byte) ([]Row, error) {
	var document map[string]json.RawMessage
	var nodes []map[string]any

	if err := json.Unmarshal(payload, &document); err == nil {
		graph, ok := document["@graph"]
		if !ok {
			return nil, fmt.Errorf("%w: json-ld document has no @graph", ErrUnparseablePayload)
		}

		if err := json.Unmarshal(graph, &nodes); err != nil {
			return nil, fmt.Errorf("%w: json-ld @graph: %w", ErrUnparseablePayload, err)
		}
	} else if err := json.Unmarshal(payload, &nodes); err != nil {
		return nil, fmt.Errorf("%w: json-ld document: %w", ErrUnparseablePayload, err)
	}

	rows := make([]Row, 0, len(nodes))

	for _, node := range nodes {
		id, _ := node["@id"].(string)
		if id == "" {
			a.logger.Warn("skipping json-ld node without @id", slog.Int("page", step.Page))

			continue
		}

		rows = append(rows, Row{
			"node_id":           Text(id),
			"node_type":         CoerceText(jsonLDType(node["@type"])),
			"label":             jsonLDLiteral(firstOf(node, "rdfs:label", "label", "skos:prefLabel", "name")),
			"symbol":            jsonLDLiteral(firstOf(node, "symbol", "unitSymbol")),
			"comment":           jsonLDLiteral(firstOf(node, "rdfs:comment", "comment", "skos:definition", "description")),
			"conversion_factor": jsonLDNumber(firstOf(node, "conversionFactor", "conversionMultiplier")),
			"base_unit":         jsonLDLiteral(firstOf(node, "baseUnit", "hasBaseUnit")),
		})
	}

	return rows, nil
}

// firstOf returns the first present property among the given names.
func firstOf(node map[string]any, names ...string) any {
	for _, name := range names {
		if v, ok := node[name]; ok {
			return v
		}
	}

	return nil
}

// jsonLDType renders @type, which may be a string or an array of strings.
func jsonLDType(raw any) string {
	switch t := raw.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}

	return ""
}

// jsonLDLiteral resolves a JSON-LD value to text. Plain strings pass
// through; {"@value": ..., "@language": ...} objects and arrays of them
// resolve preferring the "en" language tag, falling back to the first
// literal present.
func jsonLDLiteral(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case string:
		return CoerceText(t)
	case float64:
		return CoerceValue(t)
	case map[string]any:
		if v, ok := t["@value"]; ok {
			return jsonLDLiteral(v)
		}

		if v, ok := t["@id"]; ok {
			return jsonLDLiteral(v)
		}

		return Null()
	case []any:
		var fallback Value = Null()

		for _, item := range t {
			obj, ok := item.(map[string]any)
			if !ok {
				if fallback.IsNull() {
					fallback = jsonLDLiteral(item)
				}

				continue
			}

			if lang, _ := obj["@language"].(string); lang == "en" {
				return jsonLDLiteral(obj["@value"])
			}

			if fallback.IsNull() {
				fallback = jsonLDLiteral(obj)
			}
		}

		return fallback
	default:
		return Null()
	}
}

// jsonLDNumber resolves a JSON-LD value to a numeric Value, accepting typed
// literals whose @value is a numeric string.
func jsonLDNumber(raw any) Value {
	resolved := jsonLDLiteral(raw)
	if resolved.Kind == KindText {
		return CoerceNumeric(resolved.TextVal)
	}

	return resolved
}
