package filter

import (
	"strings"
	"testing"

	"github.com/lucasastorian/veclite/pkg/schema"
)

func yearsTable() *schema.Table {
	return schema.NewTable("years",
		schema.Int("id", schema.WithPrimaryKey()),
		schema.Int("year"),
		schema.Str("category", schema.WithNullable()),
		schema.Obj("tags", schema.WithNullable()),
	)
}

func TestBetweenInclusive(t *testing.T) {
	f := New().Between("year", 2018, 2022)
	c, err := Compile(f, yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(c.Where, "BETWEEN ? AND ?") {
		t.Fatalf("expected BETWEEN clause, got %q", c.Where)
	}
	if len(c.Bindings) != 2 || c.Bindings[0] != 2018 || c.Bindings[1] != 2022 {
		t.Fatalf("unexpected bindings: %v", c.Bindings)
	}
}

func TestBetweenOpenSides(t *testing.T) {
	lo, err := Compile(New().Between("year", 2018, nil), yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(lo.Where, ">= ?") {
		t.Fatalf("expected open upper side, got %q", lo.Where)
	}

	hi, err := Compile(New().Between("year", nil, 2022), yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(hi.Where, "<= ?") {
		t.Fatalf("expected open lower side, got %q", hi.Where)
	}
}

func TestGtSkippedOnUnset(t *testing.T) {
	c, err := Compile(New().Gt("year", nil), yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if c.Where != "" {
		t.Fatalf("expected skipped predicate, got %q", c.Where)
	}
}

func TestInEmptyIsVacuouslyFalse(t *testing.T) {
	c, err := Compile(New().In("category", nil), yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if c.Where != "1=0" {
		t.Fatalf("expected vacuous false, got %q", c.Where)
	}
}

func TestNotInEmptyIsVacuouslyTrue(t *testing.T) {
	c, err := Compile(New().NotIn("category", nil), yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if c.Where != "1=1" {
		t.Fatalf("expected vacuous true, got %q", c.Where)
	}
}

func TestILikeAutoWraps(t *testing.T) {
	c, err := Compile(New().ILike("category", "python"), yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if c.Bindings[0] != "%python%" {
		t.Fatalf("expected wrapped pattern, got %v", c.Bindings[0])
	}
}

func TestILikeLeavesExplicitWildcards(t *testing.T) {
	c, err := Compile(New().ILike("category", "py%on"), yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if c.Bindings[0] != "py%on" {
		t.Fatalf("expected unwrapped pattern, got %v", c.Bindings[0])
	}
}

func TestRegexInvalidPatternFails(t *testing.T) {
	_, err := Compile(New().Regex("category", "(unterminated"), yearsTable())
	if err == nil {
		t.Fatal("expected BadPattern error")
	}
}

func TestContainsRequiresJSONColumn(t *testing.T) {
	_, err := Compile(New().Contains("year", "x"), yearsTable())
	if err == nil {
		t.Fatal("expected FilterTypeError for non-JSON column")
	}
}

func TestOrderAddsPrimaryKeyTiebreak(t *testing.T) {
	c, err := Compile(New().Order("year", false), yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(c.OrderBy, `"id" ASC`) {
		t.Fatalf("expected pk tiebreak, got %q", c.OrderBy)
	}
}

func TestLimitAppliedLast(t *testing.T) {
	c, err := Compile(New().Eq("category", "a").Limit(5), yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if !c.HasLimit || c.Limit != 5 {
		t.Fatalf("expected limit 5, got %+v", c)
	}
}

func TestChainDoesNotMutateReceiver(t *testing.T) {
	base := New().Eq("category", "a")
	_ = base.Eq("category", "b")
	c, err := Compile(base, yearsTable())
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Bindings) != 1 || c.Bindings[0] != "a" {
		t.Fatalf("base filter was mutated: %v", c.Bindings)
	}
}
