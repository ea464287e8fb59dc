package dice

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	firstD20Pattern = regexp.MustCompile(`\b(\d*)d20\b`)
	anyDicePattern  = regexp.MustCompile(`\b(\d*)d(\d+)\b`)
)

// ApplyRollModifier rewrites an expression for a grail roll boon.
//
// Advantage and disadvantage double the first d20 term and keep the original
// count of highest or lowest dice. Flat boons append a modifier. Reroll
// boons tag dice with r1 so ones are rerolled once. Unknown tags leave the
// expression untouched.
func ApplyRollModifier(expression string, tag string) string {
	switch strings.TrimSpace(tag) {
	case "advantage":
		return rewriteFirstD20(expression, func(count int) string {
			return strconv.Itoa(count*2) + "d20kh" + strconv.Itoa(count)
		})
	case "disadvantage":
		return rewriteFirstD20(expression, func(count int) string {
			return strconv.Itoa(count*2) + "d20kl" + strconv.Itoa(count)
		})
	case "plus1":
		return expression + "+1"
	case "plus2":
		return expression + "+2"
	case "plus3":
		return expression + "+3"
	case "minus1":
		return expression + "-1"
	case "minus2":
		return expression + "-2"
	case "reroll_d20":
		return rewriteFirstD20(expression, func(count int) string {
			return strconv.Itoa(count) + "d20r1"
		})
	case "reroll_all":
		return anyDicePattern.ReplaceAllStringFunc(expression, func(match string) string {
			groups := anyDicePattern.FindStringSubmatch(match)
			count := groups[1]
			if count == "" {
				count = "1"
			}
			return count + "d" + groups[2] + "r1"
		})
	default:
		return expression
	}
}

// ApplyDamageModifier adjusts a damage total for a grail damage boon.
// Unknown tags leave the total untouched.
func ApplyDamageModifier(total int, tag string) int {
	switch strings.TrimSpace(tag) {
	case "plus1":
		return total + 1
	case "plus2":
		return total + 2
	case "plus3":
		return total + 3
	case "double":
		return total * 2
	case "maxdamage":
		return int(math.Round(float64(total) * 1.5))
	default:
		return total
	}
}

// IsDamageRoll reports whether an expression looks like a damage roll.
// Damage boons only apply to these.
func IsDamageRoll(expression string) bool {
	lower := strings.ToLower(expression)
	for _, pattern := range []string{"damage", "dmg", "d6", "d8", "d10", "d12"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// rewriteFirstD20 replaces the first d20 term of an expression. Boons apply
// to a single attack die, so additional d20 terms stay untouched.
func rewriteFirstD20(expression string, replace func(count int) string) string {
	loc := firstD20Pattern.FindStringSubmatchIndex(expression)
	if loc == nil {
		return expression
	}
	count := 1
	if loc[2] != loc[3] {
		count, _ = strconv.Atoi(expression[loc[2]:loc[3]])
	}
	return expression[:loc[0]] + replace(count) + expression[loc[1]:]
}
