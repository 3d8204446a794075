// update_compiler.go - translates an update document into an ordered
// sequence of parameterized mutation statements, per spec §4.3.

package docstore

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Statement is one parameterized mutation statement to run in order
// within a single transaction.
type Statement struct {
	SQL    string
	Params []interface{}
}

type instrKind int

const (
	instrSet instrKind = iota
	instrInc
	instrPush
	instrPop
	instrAddToSet
	instrReplace
)

type instruction struct {
	kind  instrKind
	field string
	value interface{}
}

var updateOperators = []string{"$set", "$inc", "$push", "$pop", "$addToSet"}

// normalizeUpdate validates and normalizes an update document into typed
// instructions, separating validation from SQL emission per the design
// notes. It enforces: no more than one operator may touch a given field,
// mixing operator and replacement keys at the top level is an error, and
// any $-prefixed key outside the supported set is an error.
func normalizeUpdate(update Document) ([]instruction, error) {
	if update == nil {
		return nil, newConfigError("update document must not be nil", update)
	}

	hasOperator := false
	hasPlain := false
	for k := range update {
		if strings.HasPrefix(k, "$") {
			hasOperator = true
		} else {
			hasPlain = true
		}
	}

	if hasOperator && hasPlain {
		return nil, newConfigError("update document mixes operators and replacement keys", update)
	}

	if !hasOperator {
		return []instruction{{kind: instrReplace, value: update}}, nil
	}

	for k := range update {
		supported := false
		for _, op := range updateOperators {
			if k == op {
				supported = true
				break
			}
		}
		if !supported {
			return nil, newConfigError("unsupported update operator: "+k, update)
		}
	}

	seen := map[string]bool{}
	var out []instruction

	appendFieldOp := func(op string, kind instrKind) error {
		raw, ok := update[op]
		if !ok {
			return nil
		}
		sub, ok := asDocument(raw)
		if !ok {
			return newConfigError(op+" requires a document", raw)
		}
		for field, value := range sub {
			if seen[field] {
				return newConfigError("multiple operators target the same key: "+field, update)
			}
			seen[field] = true
			out = append(out, instruction{kind: kind, field: field, value: value})
		}
		return nil
	}

	if err := appendFieldOp("$set", instrSet); err != nil {
		return nil, err
	}
	if err := appendFieldOp("$inc", instrInc); err != nil {
		return nil, err
	}
	if err := appendFieldOp("$push", instrPush); err != nil {
		return nil, err
	}
	if err := appendFieldOp("$pop", instrPop); err != nil {
		return nil, err
	}
	if err := appendFieldOp("$addToSet", instrAddToSet); err != nil {
		return nil, err
	}

	return out, nil
}

// CompileUpdate turns an update document into an ordered list of
// statements to run against the rows selected by where. idField is
// stripped from replacement documents before serialization, per the
// identifier round-trip invariant.
func CompileUpdate(update Document, where CompiledQuery, collName, idField string, opts UpdateOptions) ([]Statement, error) {
	instructions, err := normalizeUpdate(update)
	if err != nil {
		return nil, err
	}

	wrappedWhere, wrappedParams := wrapUpdateWhere(where, collName, opts.Multi)

	var stmts []Statement
	for _, instr := range instructions {
		switch instr.kind {
		case instrReplace:
			doc, _ := asDocument(instr.value)
			clean := Document{}
			for k, v := range doc {
				if k == idField {
					continue
				}
				clean[k] = v
			}
			text, err := bson.MarshalExtJSON(clean, false, false)
			if err != nil {
				return nil, newBackendError("failed to serialize replacement document", err)
			}
			stmts = append(stmts, Statement{
				SQL:    fmt.Sprintf(`UPDATE %q SET document = json(?) WHERE %s`, collName, wrappedWhere),
				Params: prepend(string(text), wrappedParams),
			})
		case instrSet:
			valueExpr, param, err := scalarOrJSONParam(instr.value)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, Statement{
				SQL: fmt.Sprintf(`UPDATE %q SET document = json_set(document, '$.' || ?, %s) WHERE %s`,
					collName, valueExpr, wrappedWhere),
				Params: concat([]interface{}{instr.field, param}, wrappedParams),
			})
		case instrInc:
			n, ok := asNumericParam(instr.value)
			if !ok {
				return nil, newTypeError("$inc requires a numeric value for field " + instr.field)
			}
			stmts = append(stmts, Statement{
				SQL: fmt.Sprintf(`UPDATE %q SET document = json_set(document, '$.' || ?, coalesce(json_extract(document, '$.' || ?),0) + ?) WHERE %s`,
					collName, wrappedWhere),
				Params: concat([]interface{}{instr.field, instr.field, n}, wrappedParams),
			})
		case instrPush:
			valueExpr, param, err := scalarOrJSONParam(instr.value)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts,
				Statement{
					SQL: fmt.Sprintf(`UPDATE %q SET document = json_set(document, '$.' || ?, json_array()) WHERE (%s) AND json_extract(document, '$.' || ?) IS NULL`,
						collName, wrappedWhere),
					Params: concat([]interface{}{instr.field}, wrappedParams, []interface{}{instr.field}),
				},
				Statement{
					SQL: fmt.Sprintf(`UPDATE %q SET document = json_set(document, '$.' || ? || '[' || json_array_length(json_extract(document, '$.' || ?)) || ']', %s) WHERE %s`,
						collName, valueExpr, wrappedWhere),
					Params: concat([]interface{}{instr.field, instr.field, param}, wrappedParams),
				},
			)
		case instrPop:
			n, ok := asNumber(instr.value)
			if !ok || (n != 1 && n != -1) {
				return nil, newTypeError("$pop requires a value of 1 or -1 for field " + instr.field)
			}
			index := "json_array_length(json_extract(document, '$.' || ?)) - 1"
			if n == -1 {
				index = "0"
			}
			stmts = append(stmts, Statement{
				SQL: fmt.Sprintf(`UPDATE %q SET document = json_remove(document, '$.' || ? || '[' || %s || ']') WHERE %s`,
					collName, index, wrappedWhere),
				Params: concat(popParams(instr.field, n), wrappedParams),
			})
		case instrAddToSet:
			// Re-expressed per spec §4.3: push v for every row where v is
			// not already present, by recursing with the original where
			// augmented by {field: {$nin: [v]}}.
			ninWhere, ninParams, err := augmentWithNin(where, collName, idField, instr.field, instr.value)
			if err != nil {
				return nil, err
			}
			pushStmts, err := CompileUpdate(Document{"$push": Document{instr.field: instr.value}}, CompiledQuery{
				Where:  ninWhere,
				Join:   where.Join,
				Params: ninParams,
			}, collName, idField, opts)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, pushStmts...)
		default:
			return nil, newInvariantError("unknown instruction kind")
		}
	}

	return stmts, nil
}

// wrapUpdateWhere implements the row-selection rule of §4.3: whenever a
// join is present or a row-count limit applies (i.e. multi is false), the
// predicate is wrapped so the backend need not support LIMIT on UPDATE.
func wrapUpdateWhere(where CompiledQuery, collName string, multi bool) (string, []interface{}) {
	if where.Join == "" && multi {
		return where.Where, where.Params
	}
	limitClause := ""
	if !multi {
		limitClause = " LIMIT 1"
	}
	sql := fmt.Sprintf(`_id IN (SELECT DISTINCT %q._id FROM %q %s WHERE %s%s)`,
		collName, collName, where.Join, where.Where, limitClause)
	return sql, where.Params
}

// augmentWithNin rebuilds the compiled where-clause with an additional
// {field: {$nin: [value]}} predicate ANDed on, used by $addToSet.
func augmentWithNin(where CompiledQuery, collName, idField, field string, value interface{}) (string, []interface{}, error) {
	ctx := &compileCtx{collName: collName, idField: idField}
	ninSQL, err := compileContainment(field, []interface{}{value}, ctx, true)
	if err != nil {
		return "", nil, err
	}
	params := make([]interface{}, 0, len(where.Params)+len(ctx.joinParams)+len(ctx.whereParams))
	params = append(params, where.Params...)
	params = append(params, ctx.joinParams...)
	params = append(params, ctx.whereParams...)
	return fmt.Sprintf("(%s) AND (%s)", where.Where, ninSQL), params, nil
}

func scalarOrJSONParam(v interface{}) (valueExpr string, param interface{}, err error) {
	if isScalar(v) {
		return "?", v, nil
	}
	text, err := bson.MarshalExtJSON(Document{"v": v}, false, false)
	if err != nil {
		return "", nil, newBackendError("failed to serialize value", err)
	}
	// Extract just the "v" member back out as JSON text so json(?) parses
	// the bare value, not an enclosing object.
	return "json_extract(json(?), '$.v')", string(text), nil
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// asNumericParam converts v to a SQL-bindable numeric value, preserving
// its integral-ness: integer kinds become int64 so json_set(...) stores
// a JSON integer, not a REAL. Only instrInc binds through this — $pop's
// operand is never stored, just compared against 1/-1.
func asNumericParam(v interface{}) (interface{}, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return nil, false
	}
}

func popParams(field string, n float64) []interface{} {
	if n == -1 {
		return []interface{}{field}
	}
	return []interface{}{field, field}
}

func prepend(first interface{}, rest []interface{}) []interface{} {
	out := make([]interface{}, 0, len(rest)+1)
	out = append(out, first)
	out = append(out, rest...)
	return out
}

func concat(groups ...[]interface{}) []interface{} {
	var out []interface{}
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
