package naming

import (
	"fmt"
	"regexp"
	"strings"
)

// RegexPrefix marks a file mask that is a regular expression rather than a glob.
const RegexPrefix = "<regex>"

// MaskToRegexp translates a file mask into a case-insensitive regular
// expression. A mask starting with RegexPrefix is used verbatim. Otherwise
// '.' is literal, '*' matches any run of characters and '?' matches one or
// more characters. An empty mask matches every name.
//
// The one-or-more meaning of '?' differs from POSIX globbing and is kept for
// compatibility with existing batch definitions.
func MaskToRegexp(mask string) (*regexp.Regexp, error) {
	if strings.HasPrefix(mask, RegexPrefix) {
		re, err := regexp.Compile("(?i)" + strings.TrimPrefix(mask, RegexPrefix))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid regex mask %q: %v", ErrConfiguration, mask, err)
		}
		return re, nil
	}
	if mask == "" {
		mask = "*"
	}

	var sb strings.Builder
	sb.WriteString("(?i)^")
	for _, r := range mask {
		switch r {
		case '.':
			sb.WriteString(`\.`)
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".+")
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid file mask %q: %v", ErrConfiguration, mask, err)
	}
	return re, nil
}

// MatchMask reports whether name matches the file mask.
func MatchMask(mask, name string) (bool, error) {
	re, err := MaskToRegexp(mask)
	if err != nil {
		return false, err
	}
	return re.MatchString(name), nil
}

func hasMask(s string) bool {
	return strings.ContainsAny(s, "*?")
}

// applyMask builds a name from a mask containing '*'. The first '*' takes the
// original stem, or the whole original name when it is the entire file name
// segment. Later '*' take the original extension without its dot.
func applyMask(mask, originalName string) string {
	i := strings.Index(mask, "*")
	if i < 0 {
		return mask
	}
	stem, ext := splitExt(originalName)
	prefix, suffix := mask[:i], mask[i+1:]

	fill := stem
	if (i == 0 || isSeparator(mask[i-1])) && suffix == "" {
		fill = originalName
	}

	if ext == "" {
		suffix = strings.ReplaceAll(suffix, ".*", "")
	}
	suffix = strings.ReplaceAll(suffix, "*", strings.TrimPrefix(ext, "."))
	return prefix + fill + suffix
}
