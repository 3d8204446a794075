// query_ast.go - normalizes a Mongo-style query document into a Node tree.
//
// Node is the tagged variant recommended by the design notes: a Logical
// node holds child nodes for $and/$or, a Predicate node holds a single
// (field, operator, operand) leaf, and a Compiled node lets downstream
// consumers splice in pre-rendered SQL without the rest of the compiler
// branching on concrete type. Only Logical and Predicate are produced by
// ParseQuery; nothing in this package builds a Compiled node, and the
// query compiler splices one in as given (see compileNode in
// query_compiler.go).

package docstore

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"
)

// NodeKind discriminates the Node union.
type NodeKind int

const (
	NodeLogical NodeKind = iota
	NodePredicate
	NodeCompiled
)

// Node is a query AST node. Only the fields relevant to Kind are set.
type Node struct {
	Kind NodeKind

	// Logical
	Op       string // "$and" or "$or"
	Children []Node

	// Predicate
	Field   string
	PredOp  string // "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$like", "$in", "$nin"
	Operand interface{}
	Negate  bool // set when the predicate was wrapped in $not

	// Compiled
	SQL    string
	Params []interface{}
	Join   string
}

var comparisonOps = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true,
	"$lte": true, "$like": true, "$in": true, "$nin": true,
}

// ParseQuery normalizes a query document into an AST, recognizing the
// {$query: Q, $order: O} envelope. order is nil when the caller supplied
// no $order key.
func ParseQuery(doc Document) (Node, []OrderTerm, error) {
	if doc == nil {
		return Node{Kind: NodeLogical, Op: "$and"}, nil, nil
	}

	q := doc
	var order []OrderTerm
	if qv, ok := doc["$query"]; ok {
		inner, ok := asDocument(qv)
		if !ok {
			return Node{}, nil, newConfigError("$query must be a document", doc)
		}
		q = inner
		if ov, ok := doc["$order"]; ok {
			ot, err := parseOrder(ov)
			if err != nil {
				return Node{}, nil, err
			}
			order = ot
		}
	}

	node, err := parseDocument(q)
	return node, order, err
}

func parseOrder(v interface{}) ([]OrderTerm, error) {
	switch o := v.(type) {
	case bson.D:
		var out []OrderTerm
		for _, e := range o {
			dir, err := orderDir(e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, OrderTerm{Field: e.Key, Dir: dir})
		}
		return out, nil
	case Document:
		keys := sortedKeys(o)
		var out []OrderTerm
		for _, k := range keys {
			dir, err := orderDir(o[k])
			if err != nil {
				return nil, err
			}
			out = append(out, OrderTerm{Field: k, Dir: dir})
		}
		return out, nil
	default:
		return nil, newConfigError("$order must be a document", v)
	}
}

func orderDir(v interface{}) (int, error) {
	n, ok := asInt(v)
	if !ok || (n != 1 && n != -1) {
		return 0, newConfigError("$order values must be 1 or -1", v)
	}
	return n, nil
}

// parseDocument parses a (sub)query document into an implicit $and of its
// field clauses and logical operators.
func parseDocument(doc Document) (Node, error) {
	keys := sortedKeys(doc)
	var children []Node

	for _, key := range keys {
		value := doc[key]
		switch key {
		case "$and", "$or":
			subs, ok := value.([]interface{})
			if !ok {
				return Node{}, newConfigError(key+" requires a list of documents", doc)
			}
			var kids []Node
			for _, s := range subs {
				sd, ok := asDocument(s)
				if !ok {
					return Node{}, newConfigError(key+" children must be documents", s)
				}
				kid, err := parseDocument(sd)
				if err != nil {
					return Node{}, err
				}
				kids = append(kids, kid)
			}
			children = append(children, Node{Kind: NodeLogical, Op: key, Children: kids})
		case "$not":
			sub, ok := asDocument(value)
			if !ok {
				return Node{}, newConfigError("$not requires a document", value)
			}
			kid, err := parseDocument(sub)
			if err != nil {
				return Node{}, err
			}
			if kid.Kind != NodePredicate {
				return Node{}, newConfigError("$not only applies to a single leaf comparator", value)
			}
			kid.Negate = !kid.Negate
			children = append(children, kid)
		default:
			node, err := parseFieldClause(key, value)
			if err != nil {
				return Node{}, err
			}
			children = append(children, node)
		}
	}

	if len(children) == 1 {
		return children[0], nil
	}
	return Node{Kind: NodeLogical, Op: "$and", Children: children}, nil
}

// parseFieldClause parses the value associated with one top-level field
// key: either a bare operand (implicit $eq) or an operator document such
// as {$gt: 5} / {$in: [...]} / {$not: {$like: "M%"}}.
func parseFieldClause(field string, value interface{}) (Node, error) {
	opDoc, ok := asOperatorDocument(value)
	if !ok {
		return Node{Kind: NodePredicate, Field: field, PredOp: "$eq", Operand: value}, nil
	}

	keys := sortedKeys(opDoc)
	var preds []Node
	for _, op := range keys {
		operand := opDoc[op]
		switch op {
		case "$not":
			innerDoc, ok := asOperatorDocument(operand)
			if !ok {
				return Node{}, newConfigError("$not requires an operator document", operand)
			}
			innerKeys := sortedKeys(innerDoc)
			if len(innerKeys) != 1 {
				return Node{}, newConfigError("$not only applies to a single comparator", operand)
			}
			innerOp := innerKeys[0]
			if !comparisonOps[innerOp] {
				return Node{}, newConfigError("unsupported operator under $not: "+innerOp, operand)
			}
			preds = append(preds, Node{
				Kind: NodePredicate, Field: field, PredOp: innerOp,
				Operand: innerDoc[innerOp], Negate: true,
			})
		default:
			if !comparisonOps[op] {
				return Node{}, newConfigError("unsupported operator: "+op, value)
			}
			if op == "$in" || op == "$nin" {
				if _, ok := operand.([]interface{}); !ok {
					return Node{}, newConfigError(op+" requires a list operand", operand)
				}
			}
			preds = append(preds, Node{Kind: NodePredicate, Field: field, PredOp: op, Operand: operand})
		}
	}

	if len(preds) == 1 {
		return preds[0], nil
	}
	return Node{Kind: NodeLogical, Op: "$and", Children: preds}, nil
}

// asOperatorDocument reports whether v is a non-empty document whose keys
// are all $-prefixed, i.e. an operator clause. Any other value, including
// a document that mixes $-prefixed and plain keys, is treated by the
// caller as a literal equality operand.
func asOperatorDocument(v interface{}) (Document, bool) {
	d, ok := asDocument(v)
	if !ok {
		return nil, false
	}
	if len(d) == 0 {
		return nil, false
	}
	for k := range d {
		if len(k) == 0 || k[0] != '$' {
			return nil, false
		}
	}
	return d, true
}

func asDocument(v interface{}) (Document, bool) {
	switch d := v.(type) {
	case Document:
		return d, true
	case map[string]interface{}:
		return Document(d), true
	default:
		return nil, false
	}
}

func sortedKeys(d Document) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
