// Package naming expands the %Macro% placeholders and '*' masks used in
// transfer definitions into concrete file and directory names. It performs
// no I/O.
package naming

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	// ErrInvalidArgument is returned when a name cannot be built from the
	// given inputs.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConfiguration is returned when a template or mask is unusable in the
	// context it was configured for.
	ErrConfiguration = errors.New("invalid configuration")
)

// invalidNameChars are rejected in move and rename targets. '/' and ':' are
// allowed as path and drive separators.
const invalidNameChars = "\"<>|*?"

var drivePattern = regexp.MustCompile(`^[A-Za-z]:/`)

// Expander resolves names for one batch.
type Expander struct {
	ctx Context
}

// NewExpander returns an Expander bound to the batch context.
func NewExpander(ctx Context) *Expander {
	return &Expander{ctx: ctx}
}

// Context returns the batch context the expander was built with.
func (e *Expander) Context() Context {
	return e.ctx
}

// ExpandDirectory expands the time and identity macros of a directory
// template. Per-file macros are rejected since a directory is expanded once
// per batch.
func (e *Expander) ExpandDirectory(template string) (string, error) {
	if m, ok := fileMacroIn(template); ok {
		return "", fmt.Errorf("%w: directory %q cannot use %s", ErrConfiguration, template, m)
	}
	return expandBatch(template, e.ctx), nil
}

// ResolveDestinationName returns the destination name for originalFileName
// according to template. An empty template keeps the original base name. A
// literal template is returned as-is, or has the original name appended when
// it only names a directory. Otherwise macros are expanded and a '*' mask is
// applied.
func (e *Expander) ResolveDestinationName(originalFileName, template string) (string, error) {
	if strings.Contains(template, "?") {
		return "", fmt.Errorf("%w: character '?' not allowed in destination name %q", ErrInvalidArgument, template)
	}
	if originalFileName == "" {
		return "", fmt.Errorf("%w: original file name must be set", ErrInvalidArgument)
	}

	original := baseName(originalFileName)
	if template == "" {
		return original, nil
	}

	if !hasMacro(template) && !hasMask(template) {
		if baseName(template) == "" {
			return template + original, nil
		}
		return template, nil
	}

	result := expandFile(expandBatch(template, e.ctx), original)
	if strings.Contains(result, "*") {
		result = applyMask(result, original)
	}
	if result != "" && isSeparator(result[len(result)-1]) {
		result += original
	}
	return result, nil
}

// ResolveMoveDestination returns the path a source file is moved to when its
// post-transfer operation is Move. The directory must be given explicitly.
func (e *Expander) ResolveMoveDestination(moveToDirectory, originalFullPath string) (string, error) {
	if strings.TrimSpace(moveToDirectory) == "" {
		return "", fmt.Errorf("%w: move requires a target directory", ErrInvalidArgument)
	}
	dir, err := e.ExpandDirectory(moveToDirectory)
	if err != nil {
		return "", err
	}
	dir = Canonicalize(dir)
	if err := checkNameChars(dir); err != nil {
		return "", err
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return dir + baseName(originalFullPath), nil
}

// ResolveRenamePath returns the path a source file is renamed to when its
// post-transfer operation is Rename. Relative results are resolved against
// the directory holding the original file.
func (e *Expander) ResolveRenamePath(originalFullPath, renameTo string) (string, error) {
	if renameTo == "" {
		return "", fmt.Errorf("%w: rename requires a target name", ErrInvalidArgument)
	}
	original := Canonicalize(originalFullPath)
	name, err := e.ResolveDestinationName(baseName(original), renameTo)
	if err != nil {
		return "", err
	}
	name = Canonicalize(name)
	if err := checkNameChars(name); err != nil {
		return "", err
	}
	if IsAbs(name) {
		return name, nil
	}
	dir := dirName(original)
	if dir == "" {
		return name, nil
	}
	return path.Join(dir, name), nil
}

// Canonicalize converts backslashes to forward slashes.
func Canonicalize(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// IsAbs reports whether p is rooted, either at '/' or at a drive letter.
func IsAbs(p string) bool {
	p = Canonicalize(p)
	return strings.HasPrefix(p, "/") || drivePattern.MatchString(p)
}

// Join joins a directory and a name with '/', leaving absolute names alone.
func Join(dir, name string) string {
	name = Canonicalize(name)
	if IsAbs(name) || dir == "" {
		return name
	}
	return path.Join(Canonicalize(dir), name)
}

// Dir returns the directory part of p, without a trailing separator.
func Dir(p string) string {
	d := dirName(Canonicalize(p))
	if d == "" {
		return "."
	}
	return d
}

// Base returns the last element of p; it is empty when p ends in a separator.
func Base(p string) string {
	return baseName(p)
}

func checkNameChars(p string) error {
	if i := strings.IndexFunc(p, func(r rune) bool {
		return r < 32 || strings.ContainsRune(invalidNameChars, r)
	}); i >= 0 {
		return fmt.Errorf("%w: path %q contains invalid character %q", ErrInvalidArgument, p, p[i])
	}
	return nil
}

func isSeparator(b byte) bool {
	return b == '/' || b == '\\'
}

func baseName(p string) string {
	i := strings.LastIndexAny(p, `/\`)
	return p[i+1:]
}

func dirName(p string) string {
	i := strings.LastIndexAny(p, `/\`)
	switch {
	case i < 0:
		return ""
	case i == 0:
		return "/"
	}
	return p[:i]
}

// splitExt splits a base name into stem and extension, the extension
// including its dot. Names whose only dot is the first character have no
// extension.
func splitExt(name string) (stem, ext string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}
