package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTable = "Type,Title,Points,Question Body,Correct Answer,Option 1,Option 2,Option 3,Option 4,Option 5," +
	"General Feedback,Correct Feedback,Incorrect Feedback,Feedback 1,Feedback 2,Feedback 3,Feedback 4,Feedback 5\n" +
	",,,,,,,,,,,,,,,,,\n" +
	"MC,,5,2+2=?,2,3,4,5,,,,Nice!,Try again,,,,,\n" +
	"MR,Primes,1,Which are prime?,\"1,3\",2,4,5,,,,,,,4 = 2*2,,,\n"

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("qticsv %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestImportExportCommands(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "week1.csv")
	zipPath := filepath.Join(dir, "week1.zip")
	outPath := filepath.Join(dir, "roundtrip.csv")
	db := filepath.Join(dir, "history.db")
	if err := os.WriteFile(csvPath, []byte(sampleTable), 0o644); err != nil {
		t.Fatal(err)
	}

	out := run(t, "import", csvPath, zipPath, "--db", db, "--log-level", "error")
	if !strings.Contains(out, "Converted 2 questions.") {
		t.Errorf("unexpected import output:\n%s", out)
	}
	if _, err := os.Stat(zipPath); err != nil {
		t.Fatalf("package not written: %v", err)
	}

	out = run(t, "export", zipPath, outPath, "--db", db, "--bom=false", "--log-level", "error")
	if !strings.Contains(out, "Converted 2 questions.") {
		t.Errorf("unexpected export output:\n%s", out)
	}
	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	// The description row is regenerated; header and data rows survive.
	gotLines := strings.Split(string(got), "\n")
	wantLines := strings.Split(sampleTable, "\n")
	if len(gotLines) != len(wantLines) {
		t.Fatalf("round trip has %d lines, want %d:\n%s", len(gotLines), len(wantLines), got)
	}
	for i := range wantLines {
		if i != 1 && gotLines[i] != wantLines[i] {
			t.Errorf("line %d = %q, want %q", i+1, gotLines[i], wantLines[i])
		}
	}

	out = run(t, "history", "--db", db, "--log-level", "error")
	for _, want := range []string{"export", "import", "week1.csv", "week1.zip", "2 of 2 runs"} {
		if !strings.Contains(out, want) {
			t.Errorf("history output lacks %q:\n%s", want, out)
		}
	}
	out = run(t, "history", "--db", db, "--limit", "1", "--log-level", "error")
	if !strings.Contains(out, "1 of 2 runs") {
		t.Errorf("limited history should report the total:\n%s", out)
	}
	out = run(t, "history", "1", "--db", db, "--log-level", "error")
	if !strings.Contains(out, "run 1 (import") {
		t.Errorf("unexpected run detail:\n%s", out)
	}
}

func TestExportDefaultOutput(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "q.csv")
	zipPath := filepath.Join(dir, "q.zip")
	if err := os.WriteFile(csvPath, []byte(sampleTable), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, "import", csvPath, zipPath, "--log-level", "error")
	run(t, "export", zipPath, "--log-level", "error")

	if _, err := os.Stat(filepath.Join(dir, defaultExportName)); err != nil {
		t.Errorf("expected %s next to the input: %v", defaultExportName, err)
	}
}

func TestImportLeavesNoPartialOutput(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bad.csv")
	zipPath := filepath.Join(dir, "bad.zip")
	bad := strings.Replace(sampleTable, "MC,,5,", "MC,,abc,", 1)
	if err := os.WriteFile(csvPath, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"import", csvPath, zipPath, "--log-level", "error"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for a malformed point value")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the input file, found %d entries", len(entries))
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(path, []byte("new")); err != nil {
		t.Fatalf("writeFileAtomic: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "new" {
		t.Errorf("content = %q, want new", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o644 {
		t.Errorf("mode = %v, want -rw-r--r--", perm)
	}
	fresh := filepath.Join(dir, "fresh.zip")
	if err := writeFileAtomic(fresh, []byte("zip")); err != nil {
		t.Fatal(err)
	}
	info, err = os.Stat(fresh)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o644 {
		t.Errorf("new file mode = %v, want -rw-r--r--", perm)
	}
	if err := writeFileAtomic(filepath.Join(dir, "missing", "out.csv"), []byte("x")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
