// Package dice parses and rolls tabletop dice expressions.
//
// The grammar covers expressions like "1d20+5", "2d6 + 1d4 + 3", "4d20kh2"
// (keep highest), "2d20kl1" (keep lowest), and "1d20r1" (reroll matching
// values once).
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidExpression indicates the expression did not match the dice grammar.
var ErrInvalidExpression = errors.New("invalid dice expression")

var (
	operatorSpacing = regexp.MustCompile(`\s*([+-])\s*`)
	termPattern     = regexp.MustCompile(`(?i)(\d*d\d+(?:kh\d+|kl\d+|r\d+)?|[+-]\d+)`)
	dicePattern     = regexp.MustCompile(`(?i)^(\d*)d(\d+)(?:(kh|kl|r)(\d+))?$`)
)

// KeepMode selects which rolled dice count toward the subtotal.
type KeepMode string

const (
	KeepAll     KeepMode = ""
	KeepHighest KeepMode = "kh"
	KeepLowest  KeepMode = "kl"
)

// Part is one dice term of an expression.
type Part struct {
	Count     int
	Sides     int
	Keep      KeepMode
	KeepCount int
	// Reroll rerolls dice that land on exactly this value, once. Zero
	// disables rerolls.
	Reroll int
}

// Expression is a parsed dice expression.
type Expression struct {
	Parts []Part
	// Modifier is the sum of all flat +N/-N terms.
	Modifier int
}

// PartResult captures the rolls for a single dice term.
type PartResult struct {
	Part     Part
	Original []int
	Rolls    []int
	Kept     []int
	Subtotal int
}

// Result captures a fully evaluated roll.
type Result struct {
	Parts       []PartResult
	Modifier    int
	Total       int
	Breakdown   string
	CritSuccess bool
	CritFail    bool
}

// Parse validates an expression against the dice grammar.
func Parse(expression string) (Expression, error) {
	normalized := operatorSpacing.ReplaceAllString(strings.TrimSpace(expression), "$1")
	if normalized == "" {
		return Expression{}, ErrInvalidExpression
	}

	matches := termPattern.FindAllString(normalized, -1)
	if len(matches) == 0 || strings.Join(matches, "") != normalized {
		return Expression{}, ErrInvalidExpression
	}

	var parsed Expression
	for _, match := range matches {
		if strings.ContainsAny(match, "dD") {
			groups := dicePattern.FindStringSubmatch(match)
			if groups == nil {
				return Expression{}, ErrInvalidExpression
			}
			part := Part{Count: 1}
			if groups[1] != "" {
				part.Count, _ = strconv.Atoi(groups[1])
			}
			part.Sides, _ = strconv.Atoi(groups[2])
			if part.Count < 1 || part.Sides < 1 {
				return Expression{}, ErrInvalidExpression
			}
			if groups[3] != "" {
				value, _ := strconv.Atoi(groups[4])
				switch strings.ToLower(groups[3]) {
				case "kh":
					part.Keep = KeepHighest
					part.KeepCount = value
				case "kl":
					part.Keep = KeepLowest
					part.KeepCount = value
				case "r":
					part.Reroll = value
				}
			}
			if part.Keep != KeepAll && (part.KeepCount < 1 || part.KeepCount > part.Count) {
				return Expression{}, ErrInvalidExpression
			}
			parsed.Parts = append(parsed.Parts, part)
			continue
		}
		value, err := strconv.Atoi(match)
		if err != nil {
			return Expression{}, ErrInvalidExpression
		}
		parsed.Modifier += value
	}

	if len(parsed.Parts) == 0 {
		return Expression{}, ErrInvalidExpression
	}
	return parsed, nil
}

// Roll parses and evaluates an expression using the provided random source.
//
// Roll is deterministic with respect to rng: the same source state and
// expression always produce the same Result. Crit flags are computed over
// kept d20 dice only, so a dropped 20 in "2d20kl1" is not a critical
// success.
func Roll(rng *rand.Rand, expression string) (Result, error) {
	parsed, err := Parse(expression)
	if err != nil {
		return Result{}, err
	}

	var result Result
	var breakdown []string
	for _, part := range parsed.Parts {
		partResult := rollPart(rng, part)
		result.Parts = append(result.Parts, partResult)
		result.Total += partResult.Subtotal

		if part.Sides == 20 {
			for _, value := range partResult.Kept {
				if value == 20 {
					result.CritSuccess = true
				}
				if value == 1 {
					result.CritFail = true
				}
			}
		}
		breakdown = append(breakdown, formatPart(partResult))
	}

	result.Modifier = parsed.Modifier
	result.Total += parsed.Modifier
	if parsed.Modifier != 0 {
		breakdown = append(breakdown, fmt.Sprintf("%+d", parsed.Modifier))
	}
	result.Breakdown = "(" + strings.Join(breakdown, " ") + ")"
	return result, nil
}

func rollPart(rng *rand.Rand, part Part) PartResult {
	original := make([]int, part.Count)
	rolls := make([]int, part.Count)
	for i := range original {
		original[i] = rng.Intn(part.Sides) + 1
		rolls[i] = original[i]
	}

	if part.Reroll > 0 {
		for i, value := range rolls {
			if value == part.Reroll {
				rolls[i] = rng.Intn(part.Sides) + 1
			}
		}
	}

	kept := make([]int, len(rolls))
	copy(kept, rolls)
	switch part.Keep {
	case KeepHighest:
		slices.SortFunc(kept, func(a, b int) int { return b - a })
		kept = kept[:part.KeepCount]
	case KeepLowest:
		slices.Sort(kept)
		kept = kept[:part.KeepCount]
	}

	subtotal := 0
	for _, value := range kept {
		subtotal += value
	}
	return PartResult{
		Part:     part,
		Original: original,
		Rolls:    rolls,
		Kept:     kept,
		Subtotal: subtotal,
	}
}

func formatPart(result PartResult) string {
	part := result.Part
	switch {
	case part.Reroll > 0:
		display := make([]string, len(result.Rolls))
		for i, value := range result.Rolls {
			if result.Original[i] == part.Reroll {
				display[i] = fmt.Sprintf("%d→%d", result.Original[i], value)
			} else {
				display[i] = strconv.Itoa(value)
			}
		}
		return fmt.Sprintf("%dd%dr%d:[%s]", part.Count, part.Sides, part.Reroll, strings.Join(display, ","))
	case part.Keep != KeepAll:
		return fmt.Sprintf("%dd%d%s%d:[%s]→%d", part.Count, part.Sides, part.Keep, part.KeepCount, joinInts(result.Rolls), result.Subtotal)
	default:
		return fmt.Sprintf("%dd%d:[%s]", part.Count, part.Sides, joinInts(result.Rolls))
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, value := range values {
		parts[i] = strconv.Itoa(value)
	}
	return strings.Join(parts, ",")
}
