package naming

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testTransferID = uuid.MustParse("0b9f7c5e-3a1d-4c2b-9e8f-1a2b3c4d5e6f")

func testContext() Context {
	n := 0
	return Context{
		// Tuesday
		Now:          time.Date(2024, 3, 5, 14, 7, 9, 123_000_000, time.UTC),
		TransferName: "nightly",
		TransferID:   testTransferID,
		NewGUID: func() uuid.UUID {
			n++
			return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
		},
	}
}

func TestExpandDirectory_Macros(t *testing.T) {
	e := NewExpander(testContext())

	tests := []struct {
		template string
		expect   string
	}{
		{"/out", "/out"},
		{"/out/%Date%", "/out/2024-03-05"},
		{"/out/%date%/%TIME%", "/out/2024-03-05/14-07-09"},
		{"/out/%DateTime%", "/out/2024-03-05-14-07-09"},
		{"/out/%DateTimeMs%", "/out/2024-03-05-14-07-09-123"},
		{"%Year%/%Month%/%Day%", "2024/03/05"},
		{"%Hour%%Minute%%Second%.%Millisecond%", "140709.123"},
		{"/week/%WeekDay%", "/week/2"},
		{"/%TransferName%/%TransferId%", "/nightly/0B9F7C5E-3A1D-4C2B-9E8F-1A2B3C4D5E6F"},
		{"/%Unknown%/x", "/%Unknown%/x"},
		{"/in/50%off%Date%", "/in/50%off2024-03-05"},
		{"/in/%Date%Time%", "/in/2024-03-05Time%"},
		{"/in/100%", "/in/100%"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			got, err := e.ExpandDirectory(tt.template)
			if err != nil {
				t.Fatalf("ExpandDirectory(%q) failed: %v", tt.template, err)
			}
			if got != tt.expect {
				t.Errorf("ExpandDirectory(%q) = %q; want %q", tt.template, got, tt.expect)
			}
		})
	}
}

func TestExpandDirectory_RejectsFileMacros(t *testing.T) {
	e := NewExpander(testContext())

	for _, template := range []string{
		"/out/%SourceFileName%",
		"/out/%sourcefileextension%",
		"/%Date%/%SOURCEFILENAME%/x",
		"/in/x%y%SourceFileName%",
		"/in/%%SourceFileExtension%",
	} {
		_, err := e.ExpandDirectory(template)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("ExpandDirectory(%q) error = %v; want ErrConfiguration", template, err)
		}
	}
}

func TestExpandDirectory_GuidPerOccurrence(t *testing.T) {
	e := NewExpander(testContext())

	got, err := e.ExpandDirectory("%Guid%/%guid%")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(got, "/")
	if len(parts) != 2 || parts[0] == parts[1] {
		t.Errorf("expected two distinct GUIDs, got %q", got)
	}
	if parts[0] != "00000000-0000-0000-0000-000000000001" {
		t.Errorf("unexpected first GUID %q", parts[0])
	}
}

func TestTicks(t *testing.T) {
	e := NewExpander(Context{Now: time.Unix(0, 0).UTC()})
	got, err := e.ExpandDirectory("%Ticks%")
	if err != nil {
		t.Fatal(err)
	}
	if got != "621355968000000000" {
		t.Errorf("ticks at unix epoch = %s", got)
	}
}

func TestWeekDaySunday(t *testing.T) {
	e := NewExpander(Context{Now: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)})
	got, _ := e.ExpandDirectory("%WeekDay%")
	if got != "7" {
		t.Errorf("Sunday weekday = %s; want 7", got)
	}
}

func TestResolveDestinationName(t *testing.T) {
	e := NewExpander(testContext())

	tests := []struct {
		original string
		template string
		expect   string
	}{
		// empty template keeps the original base name
		{"data.txt", "", "data.txt"},
		{"/in/sub/data.txt", "", "data.txt"},
		// literal names are returned unchanged
		{"data.txt", "fixed.csv", "fixed.csv"},
		{"other.bin", "fixed.csv", "fixed.csv"},
		{"data.txt", "out/fixed.csv", "out/fixed.csv"},
		// directory-only templates get the original name appended
		{"data.txt", "out/", "out/data.txt"},
		{"data.txt", `out\`, `out\data.txt`},
		// masks
		{"data.txt", "archive_*.bak", "archive_data.bak"},
		{"report.csv", "out_*_v1", "out_report_v1"},
		{"data.txt", "*", "data.txt"},
		{"data.txt", "/out/*", "/out/data.txt"},
		{"data.txt", "*.*", "data.txt"},
		{"data.txt", "copy_*.*", "copy_data.txt"},
		{"README", "*.*", "README"},
		// macros
		{"data.txt", "%SourceFileName%_%Date%%SourceFileExtension%", "data_2024-03-05.txt"},
		{"data", "%SourceFileName%%SourceFileExtension%.done", "data.done"},
		{"data.txt", "%TransferName%_*", "nightly_data"},
		{"data.txt", "%Date%/", "2024-03-05/data.txt"},
		{"data.txt", "50%off_%SourceFileName%", "50%off_data"},
	}

	for _, tt := range tests {
		t.Run(tt.original+"+"+tt.template, func(t *testing.T) {
			got, err := e.ResolveDestinationName(tt.original, tt.template)
			if err != nil {
				t.Fatalf("ResolveDestinationName(%q, %q) failed: %v", tt.original, tt.template, err)
			}
			if got != tt.expect {
				t.Errorf("ResolveDestinationName(%q, %q) = %q; want %q", tt.original, tt.template, got, tt.expect)
			}
		})
	}
}

func TestResolveDestinationName_Errors(t *testing.T) {
	e := NewExpander(testContext())

	if _, err := e.ResolveDestinationName("data.txt", "file?.txt"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for '?', got %v", err)
	}
	if _, err := e.ResolveDestinationName("", "x.txt"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty original, got %v", err)
	}
}

func TestResolveMoveDestination(t *testing.T) {
	e := NewExpander(testContext())

	if _, err := e.ResolveMoveDestination("", "/a/b.txt"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty directory, got %v", err)
	}

	tests := []struct {
		dir      string
		original string
		expect   string
	}{
		{"/moved", "/a/b.txt", "/moved/b.txt"},
		{"/moved/", "/a/b.txt", "/moved/b.txt"},
		{`C:\moved`, `C:\a\b.txt`, "C:/moved/b.txt"},
		{"/moved/%Date%", "b.txt", "/moved/2024-03-05/b.txt"},
	}
	for _, tt := range tests {
		got, err := e.ResolveMoveDestination(tt.dir, tt.original)
		if err != nil {
			t.Fatalf("ResolveMoveDestination(%q, %q) failed: %v", tt.dir, tt.original, err)
		}
		if got != tt.expect {
			t.Errorf("ResolveMoveDestination(%q, %q) = %q; want %q", tt.dir, tt.original, got, tt.expect)
		}
	}

	if _, err := e.ResolveMoveDestination("/bad|dir", "/a/b.txt"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for invalid character, got %v", err)
	}
}

func TestResolveRenamePath(t *testing.T) {
	e := NewExpander(testContext())

	if _, err := e.ResolveRenamePath("/a/b.txt", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty template, got %v", err)
	}

	tests := []struct {
		original string
		renameTo string
		expect   string
	}{
		{"/in/data.txt", "done_*.txt", "/in/done_data.txt"},
		{"/in/data.txt", "%SourceFileName%.%Date%%SourceFileExtension%", "/in/data.2024-03-05.txt"},
		{"/in/data.txt", "/archive/*.old", "/archive/data.old"},
		{"/in/data.txt", "../processed/", "/processed/data.txt"},
		{`C:\in\data.txt`, "*.bak", "C:/in/data.bak"},
		{"data.txt", "x_*", "x_data"},
	}
	for _, tt := range tests {
		got, err := e.ResolveRenamePath(tt.original, tt.renameTo)
		if err != nil {
			t.Fatalf("ResolveRenamePath(%q, %q) failed: %v", tt.original, tt.renameTo, err)
		}
		if got != tt.expect {
			t.Errorf("ResolveRenamePath(%q, %q) = %q; want %q", tt.original, tt.renameTo, got, tt.expect)
		}
	}
}

func TestPathHelpers(t *testing.T) {
	if got := Join("/in", "a.txt"); got != "/in/a.txt" {
		t.Errorf("Join = %q", got)
	}
	if got := Join("/in", "/abs/a.txt"); got != "/abs/a.txt" {
		t.Errorf("Join with absolute name = %q", got)
	}
	if got := Dir("/in/a.txt"); got != "/in" {
		t.Errorf("Dir = %q", got)
	}
	if got := Dir("a.txt"); got != "." {
		t.Errorf("Dir of bare name = %q", got)
	}
	if !IsAbs("D:/x") || IsAbs("x/y") {
		t.Error("IsAbs misclassified a path")
	}
}
