package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/cutting-params/internal/model"
)

// Range is a closed numeric interval parsed from a model-written range.
type Range struct {
	Lo, Hi float64
	// Unit is the text following the numbers, e.g. "m/min".
	Unit string
}

// A number is either comma-grouped thousands ("1,200", "1,200.5") or a
// plain value whose decimal mark is a dot or a comma ("0.1", "0,1").
const numberExpr = `[1-9]\d{0,2}(?:,\d{3})+(?:\.\d+)?|\d+(?:[.,]\d+)?`

var (
	rangePattern   = regexp.MustCompile(`(` + numberExpr + `)\s*(?:-|\x{2013}|\x{2014}|~|to|\.\.\.?|\x{2026})\s*(` + numberExpr + `)`)
	bracketPattern = regexp.MustCompile(`[\[(]\s*(\d+(?:\.\d+)?)\s*[,;]\s*(\d+(?:\.\d+)?)\s*[\])]`)
	numberPattern  = regexp.MustCompile(numberExpr)
	thousandsMatch = regexp.MustCompile(`^[1-9]\d{0,2}(?:,\d{3})+(?:\.\d+)?$`)
)

func parseNumber(s string) (float64, bool) {
	if thousandsMatch.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func pair(lo, hi string) (float64, float64, bool) {
	l, ok1 := parseNumber(lo)
	h, ok2 := parseNumber(hi)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	if l > h {
		l, h = h, l
	}
	return l, h, true
}

// ParseRange extracts the first numeric range ("150-200 m/min",
// "80 to 120", "[80,120]") or single value ("0.2 mm/rev") from s.
func ParseRange(s string) (Range, bool) {
	if !model.Present(s) {
		return Range{}, false
	}
	loc := rangePattern.FindStringSubmatchIndex(s)
	if b := bracketPattern.FindStringSubmatchIndex(s); b != nil && (loc == nil || b[0] < loc[0]) {
		loc = b
	}
	if loc != nil {
		if lo, hi, ok := pair(s[loc[2]:loc[3]], s[loc[4]:loc[5]]); ok {
			return Range{Lo: lo, Hi: hi, Unit: unitAfter(s[loc[1]:])}, true
		}
	}
	if loc := numberPattern.FindStringIndex(s); loc != nil {
		if v, ok := parseNumber(s[loc[0]:loc[1]]); ok {
			return Range{Lo: v, Hi: v, Unit: unitAfter(s[loc[1]:])}, true
		}
	}
	return Range{}, false
}

// sameUnit reports whether two ranges can be compared numerically. A missing
// unit on either side is assumed to match.
func sameUnit(a, b Range) bool {
	if a.Unit == "" || b.Unit == "" {
		return true
	}
	return strings.EqualFold(a.Unit, b.Unit)
}

func unitAfter(rest string) string {
	rest = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(rest), "])"))
	if i := strings.IndexAny(rest, ",;()[]\n"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

// Overlaps reports whether r and o share at least one value.
func (r Range) Overlaps(o Range) bool {
	return r.Lo <= o.Hi && o.Lo <= r.Hi
}

// Intersect returns the overlap of r and o, keeping r's unit.
func (r Range) Intersect(o Range) Range {
	out := Range{Lo: max(r.Lo, o.Lo), Hi: min(r.Hi, o.Hi), Unit: r.Unit}
	if out.Unit == "" {
		out.Unit = o.Unit
	}
	return out
}

func (r Range) String() string {
	s := formatNumber(r.Lo)
	if r.Hi != r.Lo {
		s += "-" + formatNumber(r.Hi)
	}
	if r.Unit != "" {
		s += " " + r.Unit
	}
	return s
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

const (
	noEvidencePrefix   = "No document evidence was found; the recommendation is based on general domain knowledge. "
	noMaterialPrefix   = "Material evidence was unavailable; the recommendation relies on the tool documentation. "
	noToolPrefix       = "Tool evidence was unavailable; the recommendation relies on the material documentation. "
	absentSourceMarker = "None"
)

// applyMergePolicy enforces the combination rules on a model answer. Source
// ranges that do not overlap are reported as a conflict and both are kept
// verbatim. When only one source is present, its range is the combined range.
func applyMergePolicy(ans model.RecommendationAnswer, haveTool, haveMetal bool) model.RecommendationAnswer {
	rawTool, rawMetal := ans.ToolRange, ans.MetalRange
	if !haveTool {
		ans.ToolRange = absentSourceMarker
	}
	if !haveMetal {
		ans.MetalRange = absentSourceMarker
	}
	toolPresent := model.Present(ans.ToolRange)
	metalPresent := model.Present(ans.MetalRange)
	modelConflict := strings.EqualFold(strings.TrimSpace(ans.CombinedRange), model.ConflictMarker)

	switch {
	case toolPresent && metalPresent:
		tr, tok := ParseRange(ans.ToolRange)
		mr, mok := ParseRange(ans.MetalRange)
		switch {
		case tok && mok && sameUnit(tr, mr) && !tr.Overlaps(mr):
			ans.CombinedRange = model.ConflictMarker
			ans.Conflicted = true
		case tok && mok && sameUnit(tr, mr):
			if modelConflict || !model.Present(ans.CombinedRange) {
				ans.CombinedRange = tr.Intersect(mr).String()
			}
			ans.Conflicted = false
		default:
			ans.Conflicted = modelConflict
			if modelConflict {
				ans.CombinedRange = model.ConflictMarker
			}
		}
	case toolPresent:
		ans.CombinedRange = ans.ToolRange
		ans.Conflicted = false
	case metalPresent:
		ans.CombinedRange = ans.MetalRange
		ans.Conflicted = false
	default:
		ans.Conflicted = false
		if modelConflict || !model.Present(ans.CombinedRange) {
			ans.CombinedRange = bestEffort(rawTool, rawMetal)
		}
	}

	switch {
	case !haveTool && !haveMetal:
		ans.Thoughts = noEvidencePrefix + ans.Thoughts
	case !haveMetal:
		ans.Thoughts = noMaterialPrefix + ans.Thoughts
	case !haveTool:
		ans.Thoughts = noToolPrefix + ans.Thoughts
	}
	ans.Thoughts = strings.TrimSpace(ans.Thoughts)
	return ans
}

// bestEffort picks a combined range from the ranges the model proposed from
// general knowledge when no document backs either source.
func bestEffort(tool, metal string) string {
	tr, tok := ParseRange(tool)
	mr, mok := ParseRange(metal)
	switch {
	case tok && mok && sameUnit(tr, mr) && tr.Overlaps(mr):
		return tr.Intersect(mr).String()
	case model.Present(tool):
		return strings.TrimSpace(tool)
	case model.Present(metal):
		return strings.TrimSpace(metal)
	}
	return absentSourceMarker
}
