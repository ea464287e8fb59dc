package dice

import (
	"errors"
	"math/rand"
	"testing"
)

func TestParseSimpleExpression(t *testing.T) {
	parsed, err := Parse("1d20+5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Parts) != 1 {
		t.Fatalf("part count = %d, want 1", len(parsed.Parts))
	}
	if parsed.Parts[0].Count != 1 || parsed.Parts[0].Sides != 20 {
		t.Fatalf("part = %+v, want 1d20", parsed.Parts[0])
	}
	if parsed.Modifier != 5 {
		t.Fatalf("modifier = %d, want 5", parsed.Modifier)
	}
}

func TestParseMultiPartWithSpaces(t *testing.T) {
	parsed, err := Parse("2d6 + 1d4 + 3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Parts) != 2 {
		t.Fatalf("part count = %d, want 2", len(parsed.Parts))
	}
	if parsed.Parts[1].Sides != 4 {
		t.Fatalf("second part sides = %d, want 4", parsed.Parts[1].Sides)
	}
	if parsed.Modifier != 3 {
		t.Fatalf("modifier = %d, want 3", parsed.Modifier)
	}
}

func TestParseKeepAndRerollSuffixes(t *testing.T) {
	parsed, err := Parse("4d20kh2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Parts[0].Keep != KeepHighest || parsed.Parts[0].KeepCount != 2 {
		t.Fatalf("keep = %+v, want kh2", parsed.Parts[0])
	}

	parsed, err = Parse("1d20r1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Parts[0].Reroll != 1 {
		t.Fatalf("reroll = %d, want 1", parsed.Parts[0].Reroll)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, expression := range []string{"", "  ", "d", "1d", "hello", "1d20kh5", "+5", "1d20x3"} {
		if _, err := Parse(expression); !errors.Is(err, ErrInvalidExpression) {
			t.Fatalf("parse %q = %v, want ErrInvalidExpression", expression, err)
		}
	}
}

func TestRollIsDeterministicForSeed(t *testing.T) {
	first, err := Roll(rand.New(rand.NewSource(7)), "2d6+1d4+3")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	second, err := Roll(rand.New(rand.NewSource(7)), "2d6+1d4+3")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if first.Total != second.Total {
		t.Fatalf("totals differ for same seed: %d != %d", first.Total, second.Total)
	}
	if first.Breakdown != second.Breakdown {
		t.Fatalf("breakdowns differ for same seed: %q != %q", first.Breakdown, second.Breakdown)
	}
}

func TestRollTotalsIncludeModifier(t *testing.T) {
	result, err := Roll(rand.New(rand.NewSource(1)), "3d6+4")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	sum := 4
	for _, value := range result.Parts[0].Kept {
		if value < 1 || value > 6 {
			t.Fatalf("die value %d out of range", value)
		}
		sum += value
	}
	if result.Total != sum {
		t.Fatalf("total = %d, want %d", result.Total, sum)
	}
}

func TestRollKeepHighestDropsLowDice(t *testing.T) {
	result, err := Roll(rand.New(rand.NewSource(3)), "4d20kh2")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if len(result.Parts[0].Rolls) != 4 {
		t.Fatalf("rolled %d dice, want 4", len(result.Parts[0].Rolls))
	}
	if len(result.Parts[0].Kept) != 2 {
		t.Fatalf("kept %d dice, want 2", len(result.Parts[0].Kept))
	}
	if result.Parts[0].Kept[0] < result.Parts[0].Kept[1] {
		t.Fatalf("kept dice not ordered highest first: %v", result.Parts[0].Kept)
	}
}

func TestRollCritFlagsOnKeptD20sOnly(t *testing.T) {
	// Walk seeds until keep-lowest drops a natural 20; that roll must not
	// flag a critical success.
	for seed := int64(0); seed < 500; seed++ {
		result, err := Roll(rand.New(rand.NewSource(seed)), "2d20kl1")
		if err != nil {
			t.Fatalf("roll: %v", err)
		}
		dropped20 := false
		for _, value := range result.Parts[0].Rolls {
			if value == 20 {
				dropped20 = true
			}
		}
		kept20 := result.Parts[0].Kept[0] == 20
		if dropped20 && !kept20 {
			if result.CritSuccess {
				t.Fatalf("seed %d: dropped 20 flagged crit success (rolls=%v kept=%v)", seed, result.Parts[0].Rolls, result.Parts[0].Kept)
			}
			return
		}
	}
	t.Fatal("no seed produced a dropped natural 20")
}

func TestRollRerollsMatchingValuesOnce(t *testing.T) {
	// Walk seeds until a 1 is rolled; the reroll must replace it in the
	// kept values while the original stays visible in the breakdown.
	for seed := int64(0); seed < 500; seed++ {
		result, err := Roll(rand.New(rand.NewSource(seed)), "4d6r1")
		if err != nil {
			t.Fatalf("roll: %v", err)
		}
		rolledOne := false
		for _, value := range result.Parts[0].Original {
			if value == 1 {
				rolledOne = true
			}
		}
		if !rolledOne {
			continue
		}
		if !containsArrow(result.Breakdown) {
			t.Fatalf("seed %d: breakdown %q missing reroll marker", seed, result.Breakdown)
		}
		return
	}
	t.Fatal("no seed rolled a 1 to reroll")
}

func containsArrow(s string) bool {
	for _, r := range s {
		if r == '→' {
			return true
		}
	}
	return false
}
