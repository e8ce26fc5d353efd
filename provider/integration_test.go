package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLocalToLocalTransfer tests a complete file transfer between two local providers
func TestLocalToLocalTransfer(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	testContent := []byte("Hello, ftpxfer! This is a test file for integration.")
	testFile := "test.txt"

	if err := os.WriteFile(filepath.Join(srcDir, testFile), testContent, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	srcProvider := NewLocalProvider(srcDir)
	dstProvider := NewLocalProvider(dstDir)

	ctx := context.Background()

	srcReader, err := srcProvider.OpenRead(ctx, testFile)
	if err != nil {
		t.Fatalf("Failed to open source file: %v", err)
	}
	defer srcReader.Close()

	dstWriter, err := dstProvider.OpenWrite(ctx, "nested/"+testFile)
	if err != nil {
		t.Fatalf("Failed to open destination file: %v", err)
	}

	if _, err := io.Copy(dstWriter, srcReader); err != nil {
		dstWriter.Close()
		t.Fatalf("Failed to copy data: %v", err)
	}
	if err := dstWriter.Close(); err != nil {
		t.Fatalf("Failed to close destination file: %v", err)
	}

	dstInfo, err := dstProvider.Stat(ctx, "nested/"+testFile)
	if err != nil {
		t.Fatalf("Failed to stat destination file: %v", err)
	}
	if dstInfo.Size() != int64(len(testContent)) {
		t.Errorf("Expected destination size %d, got %d", len(testContent), dstInfo.Size())
	}

	dstData, err := os.ReadFile(filepath.Join(dstDir, "nested", testFile))
	if err != nil {
		t.Fatalf("Failed to read destination file: %v", err)
	}
	if !bytes.Equal(dstData, testContent) {
		t.Errorf("Content mismatch.\nExpected: %s\nGot: %s", testContent, dstData)
	}
}

// TestConcurrentTransfers tests multiple concurrent transfers to the same destination provider
func TestConcurrentTransfers(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	numFiles := 10
	files := make([]string, numFiles)
	for i := 0; i < numFiles; i++ {
		files[i] = fmt.Sprintf("file%d.txt", i)
		content := []byte(fmt.Sprintf("content for file %d", i))
		if err := os.WriteFile(filepath.Join(srcDir, files[i]), content, 0644); err != nil {
			t.Fatalf("Failed to create test file %d: %v", i, err)
		}
	}

	srcProvider := NewLocalProvider(srcDir)
	dstProvider := NewLocalProvider(dstDir)
	ctx := context.Background()

	done := make(chan error, numFiles)

	for _, filename := range files {
		go func(file string) {
			srcReader, err := srcProvider.OpenRead(ctx, file)
			if err != nil {
				done <- err
				return
			}
			defer srcReader.Close()

			dstWriter, err := dstProvider.OpenWrite(ctx, file)
			if err != nil {
				done <- err
				return
			}

			if _, err := io.Copy(dstWriter, srcReader); err != nil {
				dstWriter.Close()
				done <- err
				return
			}

			done <- dstWriter.Close()
		}(filename)
	}

	for i := 0; i < numFiles; i++ {
		if err := <-done; err != nil {
			t.Errorf("Transfer failed: %v", err)
		}
	}

	for _, filename := range files {
		if _, err := os.Stat(filepath.Join(dstDir, filename)); err != nil {
			t.Errorf("Destination file missing: %s", filename)
		}
	}
}

func TestAsyncWriter(t *testing.T) {
	var got bytes.Buffer
	w := newAsyncWriter(func(r io.Reader) error {
		_, err := io.Copy(&got, r)
		return err
	})

	if _, err := io.WriteString(w, "streamed "); err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, "content"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got.String() != "streamed content" {
		t.Errorf("expected %q, got %q", "streamed content", got.String())
	}
}

func TestAsyncWriter_CloseWithError(t *testing.T) {
	abort := errors.New("source read failed")
	w := newAsyncWriter(func(r io.Reader) error {
		_, err := io.Copy(io.Discard, r)
		return err
	})

	if _, err := io.Copy(w, strings.NewReader("partial")); err != nil {
		t.Fatal(err)
	}
	if err := w.CloseWithError(abort); !errors.Is(err, abort) {
		t.Errorf("expected upload to fail with %v, got %v", abort, err)
	}
}

func TestAsyncWriter_UploadFailure(t *testing.T) {
	uploadErr := errors.New("server refused")
	w := newAsyncWriter(func(r io.Reader) error {
		return uploadErr
	})

	// The pipe is closed by the failed upload, so writes fail too.
	_, _ = io.WriteString(w, "data")
	if err := w.Close(); !errors.Is(err, uploadErr) {
		t.Errorf("expected %v, got %v", uploadErr, err)
	}
}
