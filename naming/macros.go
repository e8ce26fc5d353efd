package naming

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Context carries the batch-level values that macros are expanded against.
// It is passed explicitly so expansion has no hidden state.
type Context struct {
	// Now is the timestamp used by all time macros of one expansion.
	Now time.Time

	// TransferName is substituted for %TransferName%.
	TransferName string

	// TransferID is substituted, upper-cased, for %TransferId%.
	TransferID uuid.UUID

	// NewGUID produces the value of every %Guid% occurrence.
	// uuid.New is used when nil.
	NewGUID func() uuid.UUID
}

func (c Context) guid() uuid.UUID {
	if c.NewGUID != nil {
		return c.NewGUID()
	}
	return uuid.New()
}

// Macro keys that only make sense against a concrete source file.
const (
	MacroSourceFileName      = "%SourceFileName%"
	MacroSourceFileExtension = "%SourceFileExtension%"
)

// ticksAtUnixEpoch is the number of 100ns ticks between 0001-01-01 and 1970-01-01.
const ticksAtUnixEpoch = 621355968000000000

type macroFunc func(Context) string

// batchMacros maps lower-cased macro keys to their formatters.
var batchMacros = map[string]macroFunc{
	"%ticks%": func(c Context) string {
		return strconv.FormatInt(c.Now.UnixNano()/100+ticksAtUnixEpoch, 10)
	},
	"%datetimems%": func(c Context) string {
		return c.Now.Format("2006-01-02-15-04-05") + "-" + millis(c.Now)
	},
	"%datetime%":    func(c Context) string { return c.Now.Format("2006-01-02-15-04-05") },
	"%date%":        func(c Context) string { return c.Now.Format("2006-01-02") },
	"%time%":        func(c Context) string { return c.Now.Format("15-04-05") },
	"%year%":        func(c Context) string { return c.Now.Format("2006") },
	"%month%":       func(c Context) string { return c.Now.Format("01") },
	"%day%":         func(c Context) string { return c.Now.Format("02") },
	"%hour%":        func(c Context) string { return c.Now.Format("15") },
	"%minute%":      func(c Context) string { return c.Now.Format("04") },
	"%second%":      func(c Context) string { return c.Now.Format("05") },
	"%millisecond%": func(c Context) string { return millis(c.Now) },
	"%weekday%":     func(c Context) string { return strconv.Itoa(isoWeekday(c.Now)) },
	"%guid%":        func(c Context) string { return c.guid().String() },
	"%transfername%": func(c Context) string {
		return c.TransferName
	},
	"%transferid%": func(c Context) string {
		return strings.ToUpper(c.TransferID.String())
	},
}

// macroKeys holds every known key, lower-cased, longest first.
var macroKeys = func() []string {
	keys := []string{strings.ToLower(MacroSourceFileName), strings.ToLower(MacroSourceFileExtension)}
	for k := range batchMacros {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

func millis(t time.Time) string {
	return fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}

// isoWeekday returns 1 for Monday through 7 for Sunday.
func isoWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

func isFileMacro(key string) bool {
	k := strings.ToLower(key)
	return k == strings.ToLower(MacroSourceFileName) || k == strings.ToLower(MacroSourceFileExtension)
}

// nextMacro returns the position and lower-cased key of the first known
// macro in s at or after from, matched case-insensitively. A '%' that does
// not open a known key is plain text. It returns -1 when there is none.
func nextMacro(s string, from int) (int, string) {
	for i := from; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		for _, k := range macroKeys {
			if len(s)-i >= len(k) && strings.EqualFold(s[i:i+len(k)], k) {
				return i, k
			}
		}
	}
	return -1, ""
}

// replaceMacros rewrites every known macro of s through repl, left to right.
// Keys repl declines are kept verbatim. Replacement text is not rescanned.
func replaceMacros(s string, repl func(key string) (string, bool)) string {
	var b strings.Builder
	last := 0
	for i, k := nextMacro(s, 0); i >= 0; i, k = nextMacro(s, last) {
		b.WriteString(s[last:i])
		if r, ok := repl(k); ok {
			b.WriteString(r)
		} else {
			b.WriteString(s[i : i+len(k)])
		}
		last = i + len(k)
	}
	b.WriteString(s[last:])
	return b.String()
}

// hasMacro reports whether s references any known macro.
func hasMacro(s string) bool {
	i, _ := nextMacro(s, 0)
	return i >= 0
}

// fileMacroIn returns the first per-file macro referenced by s, if any.
func fileMacroIn(s string) (string, bool) {
	for i, k := nextMacro(s, 0); i >= 0; i, k = nextMacro(s, i+len(k)) {
		if isFileMacro(k) {
			return s[i : i+len(k)], true
		}
	}
	return "", false
}

// expandBatch replaces every batch-level macro in s. Unknown keys and
// per-file keys are left untouched.
func expandBatch(s string, c Context) string {
	return replaceMacros(s, func(k string) (string, bool) {
		if f, ok := batchMacros[k]; ok {
			return f(c), true
		}
		return "", false
	})
}

// expandFile replaces the per-file macros in s using the original file name.
func expandFile(s, originalName string) string {
	stem, ext := splitExt(originalName)
	return replaceMacros(s, func(k string) (string, bool) {
		switch k {
		case strings.ToLower(MacroSourceFileName):
			return stem, true
		case strings.ToLower(MacroSourceFileExtension):
			return ext, true
		}
		return "", false
	})
}
