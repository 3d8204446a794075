package docstore

import (
	"reflect"
	"strings"
	"testing"
)

func noJoinWhere(where string, params ...interface{}) CompiledQuery {
	return CompiledQuery{Where: where, Params: params}
}

func TestNormalizeUpdateRejectsMixedKeys(t *testing.T) {
	_, err := normalizeUpdate(Document{"$set": Document{"a": 1}, "b": 2})
	if err == nil {
		t.Fatal("expected an error mixing operator and replacement keys")
	}
}

func TestNormalizeUpdateRejectsDoubleOperator(t *testing.T) {
	_, err := normalizeUpdate(Document{
		"$set": Document{"a": 1},
		"$inc": Document{"a": 1},
	})
	if err == nil {
		t.Fatal("expected an error when two operators target the same key")
	}
}

func TestNormalizeUpdateRejectsUnsupportedOperator(t *testing.T) {
	_, err := normalizeUpdate(Document{"$rename": Document{"a": "b"}})
	if err == nil {
		t.Fatal("expected an error for an unsupported operator")
	}
}

func TestCompileUpdateSet(t *testing.T) {
	where := noJoinWhere(`json_extract(document, ?) IS ?`, "$.firstname", "Bart")
	wrappedWhere, wrappedParams := wrapUpdateWhere(where, "people", false)

	stmts, err := CompileUpdate(Document{"$set": Document{"age": 11}}, where, "people", "_id", UpdateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("want 1 statement, got %d", len(stmts))
	}
	wantSQL := `UPDATE "people" SET document = json_set(document, '$.' || ?, ?) WHERE ` + wrappedWhere
	if stmts[0].SQL != wantSQL {
		t.Errorf("SQL = %q, want %q", stmts[0].SQL, wantSQL)
	}
	wantParams := append([]interface{}{"age", 11}, wrappedParams...)
	if !reflect.DeepEqual(stmts[0].Params, wantParams) {
		t.Errorf("Params = %v, want %v", stmts[0].Params, wantParams)
	}
}

func TestCompileUpdateInc(t *testing.T) {
	where := noJoinWhere(`json_extract(document, ?) IS ?`, "$.firstname", "Bart")
	_, wrappedParams := wrapUpdateWhere(where, "people", false)

	stmts, err := CompileUpdate(Document{"$inc": Document{"age": 1}}, where, "people", "_id", UpdateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stmts[0].SQL, "coalesce(json_extract(document, '$.' || ?),0) + ?") {
		t.Errorf("SQL missing coalesce-based increment: %s", stmts[0].SQL)
	}
	wantParams := append([]interface{}{"age", "age", int64(1)}, wrappedParams...)
	if !reflect.DeepEqual(stmts[0].Params, wantParams) {
		t.Errorf("Params = %v, want %v", stmts[0].Params, wantParams)
	}
}

func TestCompileUpdateIncRejectsNonNumeric(t *testing.T) {
	where := noJoinWhere("1=1")
	_, err := CompileUpdate(Document{"$inc": Document{"age": "oops"}}, where, "people", "_id", UpdateOptions{})
	if err == nil {
		t.Fatal("expected a type error for a non-numeric $inc value")
	}
}

func TestCompileUpdatePushProducesInitThenAppend(t *testing.T) {
	where := noJoinWhere("1=1")
	stmts, err := CompileUpdate(Document{"$push": Document{"hobbies": "gardening"}}, where, "people", "_id", UpdateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("want 2 statements (init + append), got %d", len(stmts))
	}
	if !strings.Contains(stmts[0].SQL, "IS NULL") {
		t.Errorf("first $push statement should guard on IS NULL: %s", stmts[0].SQL)
	}
	if !strings.Contains(stmts[1].SQL, "json_array_length") {
		t.Errorf("second $push statement should index by json_array_length: %s", stmts[1].SQL)
	}
}

func TestCompileUpdatePopRequiresOneOrMinusOne(t *testing.T) {
	where := noJoinWhere("1=1")
	_, err := CompileUpdate(Document{"$pop": Document{"hobbies": 2}}, where, "people", "_id", UpdateOptions{})
	if err == nil {
		t.Fatal("expected an error for a $pop value other than 1 or -1")
	}
}

func TestCompileUpdateReplaceStripsIdentifier(t *testing.T) {
	where := noJoinWhere(`"people"._id IS ?`, "abc")
	stmts, err := CompileUpdate(Document{"_id": "abc", "firstname": "Bart"}, where, "people", "_id", UpdateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("want 1 statement, got %d", len(stmts))
	}
	if strings.Contains(stmts[0].Params[0].(string), `"_id"`) {
		t.Errorf("replacement payload should not carry the identifier field: %v", stmts[0].Params[0])
	}
}

func TestWrapUpdateWhereSingleRowByDefault(t *testing.T) {
	where := CompiledQuery{Where: "1=1", Join: ""}
	sql, _ := wrapUpdateWhere(where, "people", false)
	if !strings.Contains(sql, "LIMIT 1") {
		t.Errorf("non-multi update should wrap with LIMIT 1: %s", sql)
	}
}

func TestWrapUpdateWhereMultiWithoutJoinIsUnwrapped(t *testing.T) {
	where := CompiledQuery{Where: "1=1", Join: ""}
	sql, params := wrapUpdateWhere(where, "people", true)
	if sql != "1=1" {
		t.Errorf("multi update with no join should not be wrapped, got %q", sql)
	}
	if len(params) != 0 {
		t.Errorf("params should pass through unchanged, got %v", params)
	}
}

func TestWrapUpdateWhereMultiWithJoinIsWrapped(t *testing.T) {
	where := CompiledQuery{Where: `"ai1".value IN (?)`, Join: `, json_each(document) AS "ai1"`, Params: []interface{}{"x"}}
	sql, _ := wrapUpdateWhere(where, "people", true)
	if strings.Contains(sql, "LIMIT") {
		t.Errorf("multi update should not be limited even with a join, got %q", sql)
	}
	if !strings.Contains(sql, "SELECT DISTINCT") {
		t.Errorf("joined update should select distinct ids, got %q", sql)
	}
}
