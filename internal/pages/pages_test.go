package pages

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	domain "pdfbudget/internal/domain/compression"
)

// writePDF builds a minimal document. A true entry in blank produces a page
// without content; the others draw one line.
func writePDF(t *testing.T, path string, blank []bool) string {
	t.Helper()
	n := len(blank)
	var objs []string

	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for i := 0; i < n; i++ {
		pageObj := 3 + 2*i
		if blank[i] {
			objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
			objs = append(objs, "<< >>")
			continue
		}
		content := fmt.Sprintf("%d %d m 500 500 l S", 10+i, 10+i)
		objs = append(objs, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents %d 0 R >>", pageObj+1))
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)

	if err := os.WriteFile(path, b.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func pagesOf(n int) []bool {
	return make([]bool, n)
}

func TestPageCount(t *testing.T) {
	dir := t.TempDir()
	src := NewSource()
	path := writePDF(t, filepath.Join(dir, "five.pdf"), pagesOf(5))

	n, err := src.PageCount(path)
	if err != nil {
		t.Fatalf("PageCount failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Expected 5 pages, got %d", n)
	}

	notPDF := filepath.Join(dir, "note.pdf")
	os.WriteFile(notPDF, []byte("hello"), 0644)
	if _, err := src.PageCount(notPDF); !errors.Is(err, domain.ErrUnreadableInput) {
		t.Errorf("Expected ErrUnreadableInput, got %v", err)
	}
}

func TestWriteRange(t *testing.T) {
	dir := t.TempDir()
	src := NewSource()
	path := writePDF(t, filepath.Join(dir, "five.pdf"), pagesOf(5))
	out := filepath.Join(dir, "range.pdf")

	if err := src.WriteRange(path, 1, 3, out); err != nil {
		t.Fatalf("WriteRange failed: %v", err)
	}
	if n, _ := src.PageCount(out); n != 2 {
		t.Errorf("Expected 2 pages, got %d", n)
	}
	if n, _ := src.PageCount(path); n != 5 {
		t.Errorf("Expected source to be untouched, got %d pages", n)
	}
	if err := src.WriteRange(path, 3, 3, out); err == nil {
		t.Error("Expected error for empty range")
	}
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	src := NewSource()
	a := writePDF(t, filepath.Join(dir, "a.pdf"), pagesOf(3))
	b := writePDF(t, filepath.Join(dir, "b.pdf"), pagesOf(2))

	out := filepath.Join(dir, "merged.pdf")
	if err := src.Merge([]string{a, b}, out); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if n, _ := src.PageCount(out); n != 5 {
		t.Errorf("Expected 5 pages, got %d", n)
	}

	single := filepath.Join(dir, "single.pdf")
	if err := src.Merge([]string{a}, single); err != nil {
		t.Fatalf("Merge of one file failed: %v", err)
	}
	orig, _ := os.ReadFile(a)
	copied, _ := os.ReadFile(single)
	if !bytes.Equal(orig, copied) {
		t.Error("Expected single input to be copied verbatim")
	}

	if err := src.Merge(nil, out); !errors.Is(err, domain.ErrNoValidInputs) {
		t.Errorf("Expected ErrNoValidInputs, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	src := NewSource()
	good := writePDF(t, filepath.Join(dir, "good.pdf"), pagesOf(1))
	text := filepath.Join(dir, "renamed.pdf")
	os.WriteFile(text, []byte("just some text, not a document\n"), 0644)
	empty := filepath.Join(dir, "empty.pdf")
	os.WriteFile(empty, nil, 0644)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"pdf", good, false},
		{"text", text, true},
		{"empty", empty, true},
		{"missing", filepath.Join(dir, "missing.pdf"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := src.Validate(tt.path)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrUnreadableInput) {
					t.Errorf("Expected ErrUnreadableInput, got %v", err)
				}
				var docErr *domain.DocumentError
				if !errors.As(err, &docErr) || docErr.Path != tt.path {
					t.Errorf("Expected DocumentError for %s, got %v", tt.path, err)
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestBlankPages(t *testing.T) {
	dir := t.TempDir()
	src := NewSource()
	path := writePDF(t, filepath.Join(dir, "mixed.pdf"), []bool{false, true, false, true})

	blank, err := src.BlankPages(path)
	if err != nil {
		t.Fatalf("BlankPages failed: %v", err)
	}
	if !reflect.DeepEqual(blank, []int{2, 4}) {
		t.Errorf("Expected blank pages [2 4], got %v", blank)
	}

	out := filepath.Join(dir, "stripped.pdf")
	removed, err := src.StripBlankPages(path, out)
	if err != nil {
		t.Fatalf("StripBlankPages failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed pages, got %d", removed)
	}
	if n, _ := src.PageCount(out); n != 2 {
		t.Errorf("Expected 2 remaining pages, got %d", n)
	}
}

func TestStripBlankPages_NothingToRemove(t *testing.T) {
	dir := t.TempDir()
	src := NewSource()
	path := writePDF(t, filepath.Join(dir, "full.pdf"), pagesOf(3))
	out := filepath.Join(dir, "out.pdf")

	removed, err := src.StripBlankPages(path, out)
	if err != nil || removed != 0 {
		t.Fatalf("Expected nothing removed, got %d, %v", removed, err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("Expected no output when no page is blank")
	}
}
