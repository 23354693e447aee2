package fragstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTemp(t *testing.T, versions []string, active string) *Engine {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.frag")

	e, err := Open(Options{Path: path, Versions: versions, ActiveVersion: active})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	t.Cleanup(func() { e.Close() })

	return e
}

func TestOpenRejectsEmptyVersionList(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{Path: filepath.Join(t.TempDir(), "store.frag")})
	if !errors.Is(err, ErrNoVersions) {
		t.Fatalf("Open() error = %v, want ErrNoVersions", err)
	}
}

func TestOpenRejectsTooManyVersions(t *testing.T) {
	t.Parallel()

	versions := make([]string, MaxVersions+1)
	for i := range versions {
		versions[i] = strings.Repeat("v", 1) + string(rune('a'+i))
	}

	_, err := Open(Options{Path: filepath.Join(t.TempDir(), "store.frag"), Versions: versions})
	if !errors.Is(err, ErrTooManyVersions) {
		t.Fatalf("Open() error = %v, want ErrTooManyVersions", err)
	}
}

// Scenario 1: create, write, read back.
func TestCreateReadRoundTrip(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft", "public"}, "draft")

	if err := e.Upsert("0001", "hello world", ""); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, found, err := e.Get("0001", "draft")
	if err != nil || !found {
		t.Fatalf("Get() = (%q, %v, %v), want (\"hello world\", true, nil)", got, found, err)
	}

	if got != "hello world" {
		t.Fatalf("Get() = %q, want %q", got, "hello world")
	}

	other, found, err := e.Get("0001", "public")
	if err != nil || !found {
		t.Fatalf("Get(public) error = %v, found = %v", err, found)
	}

	if other != "" {
		t.Fatalf("Get(public) = %q, want empty (never written)", other)
	}
}

// Scenario 2: cross-version update leaves other versions untouched.
func TestUpsertSpecificVersionLeavesOthersUntouched(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft", "public"}, "draft")

	if err := e.Upsert("0001", "draft body", ""); err != nil {
		t.Fatalf("Upsert(draft) error = %v", err)
	}

	if err := e.Upsert("0001", "public body", "public"); err != nil {
		t.Fatalf("Upsert(public) error = %v", err)
	}

	draft, _, _ := e.Get("0001", "draft")
	if draft != "draft body" {
		t.Fatalf("Get(draft) = %q, want %q", draft, "draft body")
	}

	public, _, _ := e.Get("0001", "public")
	if public != "public body" {
		t.Fatalf("Get(public) = %q, want %q", public, "public body")
	}
}

// Scenario 3: persistence across close/reopen.
func TestPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.frag")

	e, err := Open(Options{Path: path, Versions: []string{"draft", "public"}, ActiveVersion: "draft"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := e.Upsert("00ff", "persisted", ""); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("Open(reopen) error = %v", err)
	}
	defer reopened.Close()

	got, found, err := reopened.Get("00ff", "draft")
	if err != nil || !found || got != "persisted" {
		t.Fatalf("Get() after reopen = (%q, %v, %v), want (\"persisted\", true, nil)", got, found, err)
	}

	if reopened.GetActiveVersion() != "draft" {
		t.Fatalf("GetActiveVersion() after reopen = %q, want %q", reopened.GetActiveVersion(), "draft")
	}
}

// Scenario 4: updating a specific version of an id that has never been
// created is ErrFragmentNotFound.
func TestUpsertUnknownFragmentSpecificVersion(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft", "public"}, "draft")

	err := e.Upsert("dead", "x", "public")
	if !errors.Is(err, ErrFragmentNotFound) {
		t.Fatalf("Upsert() error = %v, want ErrFragmentNotFound", err)
	}
}

// Scenario 5: an unknown version name takes precedence over fragment
// existence -- ErrUnknownVersion even when the id also doesn't exist.
func TestUpsertUnknownVersionTakesPrecedence(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft", "public"}, "draft")

	err := e.Upsert("fffe", "x", "staging")
	if !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("Upsert() error = %v, want ErrUnknownVersion", err)
	}

	if errors.Is(err, ErrFragmentNotFound) {
		t.Fatalf("Upsert() error also classifies as ErrFragmentNotFound, want ErrUnknownVersion only")
	}
}

func TestGetUnknownVersionName(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft"}, "draft")

	if err := e.Upsert("0001", "x", ""); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	_, _, err := e.Get("0001", "nope")
	if !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("Get() error = %v, want ErrUnknownVersion", err)
	}
}

func TestGetUnknownFragmentIsNotFoundNotError(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft"}, "draft")

	val, found, err := e.Get("9999", "draft")
	if err != nil {
		t.Fatalf("Get() error = %v, want nil for unknown id", err)
	}

	if found {
		t.Fatalf("Get() found = true, want false for unknown id")
	}

	if val != "" {
		t.Fatalf("Get() = %q, want empty string for unknown id", val)
	}
}

// Scenario 6: many fragments exercise index growth.
func TestUpsertManyFragmentsGrowsIndex(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft"}, "draft")

	const n = initialIndexCapacity + 50

	for i := 0; i < n; i++ {
		id := FormatFragmentID(uint16(i))
		if err := e.Upsert(id, "body", ""); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	for i := 0; i < n; i++ {
		id := FormatFragmentID(uint16(i))
		got, found, err := e.Get(id, "draft")
		if err != nil || !found || got != "body" {
			t.Fatalf("Get(%s) = (%q, %v, %v), want (\"body\", true, nil)", id, got, found, err)
		}
	}

	if uint64(len(e.idx.slots)) < initialIndexCapacity {
		t.Fatalf("index has %d slots after growth, want at least %d", len(e.idx.slots), initialIndexCapacity)
	}
}

// Scenario 7: a payload near the chunk size ceiling succeeds, and one that
// would overflow the 0xFFFF chunk length is rejected.
func TestUpsertLargePayloadBoundary(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft"}, "draft")

	// payload = 2 (entryCount) + 5 (entry header) + data; chunk = 4 + payload.
	maxData := maxChunkLength - 4 - 2 - 5
	large := strings.Repeat("x", maxData)

	if err := e.Upsert("0001", large, ""); err != nil {
		t.Fatalf("Upsert(max-sized) error = %v", err)
	}

	got, _, err := e.Get("0001", "draft")
	if err != nil || len(got) != maxData {
		t.Fatalf("Get() len = %d, err = %v, want %d bytes", len(got), err, maxData)
	}

	tooLarge := strings.Repeat("x", maxData+1)
	err = e.Upsert("0002", tooLarge, "")
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Upsert(too-large) error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestUpsertNoOpWhenVersionEmptyAndFragmentExists(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft", "public"}, "draft")

	if err := e.Upsert("0001", "first", ""); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := e.Upsert("0001", "second", ""); err != nil {
		t.Fatalf("Upsert() (no-op call) error = %v", err)
	}

	got, _, _ := e.Get("0001", "draft")
	if got != "first" {
		t.Fatalf("Get() = %q, want %q (no-op upsert must not overwrite)", got, "first")
	}
}

func TestSetActiveVersionPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.frag")

	e, err := Open(Options{Path: path, Versions: []string{"draft", "public"}, ActiveVersion: "draft"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := e.SetActiveVersion("public"); err != nil {
		t.Fatalf("SetActiveVersion() error = %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("Open(reopen) error = %v", err)
	}
	defer reopened.Close()

	if reopened.GetActiveVersion() != "public" {
		t.Fatalf("GetActiveVersion() after reopen = %q, want %q", reopened.GetActiveVersion(), "public")
	}
}

func TestSetActiveVersionUnknown(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft"}, "draft")

	if err := e.SetActiveVersion("ghost"); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("SetActiveVersion() error = %v, want ErrUnknownVersion", err)
	}
}

func TestOperationsOnClosedEngine(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft"}, "draft")

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("second Close() error = %v, want nil (idempotent)", err)
	}

	if err := e.Upsert("0001", "x", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("Upsert() on closed engine error = %v, want ErrClosed", err)
	}

	if _, _, err := e.Get("0001", "draft"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get() on closed engine error = %v, want ErrClosed", err)
	}
}

func TestParseAndFormatFragmentID(t *testing.T) {
	t.Parallel()

	id, err := ParseFragmentID("00ff")
	if err != nil || id != 0x00ff {
		t.Fatalf("ParseFragmentID() = (%d, %v), want (255, nil)", id, err)
	}

	if got := FormatFragmentID(id); got != "00ff" {
		t.Fatalf("FormatFragmentID() = %q, want %q", got, "00ff")
	}

	if _, err := ParseFragmentID("not-hex"); !errors.Is(err, ErrBadFragmentId) {
		t.Fatalf("ParseFragmentID(invalid) error = %v, want ErrBadFragmentId", err)
	}
}

func TestReopenRejectsTruncatedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.frag")

	e, err := Open(Options{Path: path, Versions: []string{"draft"}, ActiveVersion: "draft"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := os.Truncate(path, 10); err != nil {
		t.Fatalf("os.Truncate() error = %v", err)
	}

	_, err = Open(Options{Path: path})
	if !errors.Is(err, ErrBadHeader) {
		t.Fatalf("Open(truncated) error = %v, want ErrBadHeader", err)
	}
}
