package fragstore

import "testing"

func TestIDsSortedAscending(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft"}, "draft")

	for _, id := range []string{"00ff", "0001", "00aa"} {
		if err := e.Upsert(id, "x", ""); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	got := e.IDs()
	want := []string{"0001", "00aa", "00ff"}

	if len(got) != len(want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("IDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStatReflectsFragmentCount(t *testing.T) {
	t.Parallel()

	e := openTemp(t, []string{"draft"}, "draft")

	if got := e.Stat().FragmentCount; got != 0 {
		t.Fatalf("Stat().FragmentCount = %d, want 0 on empty store", got)
	}

	if err := e.Upsert("0001", "hello", ""); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	stat := e.Stat()
	if stat.FragmentCount != 1 {
		t.Fatalf("Stat().FragmentCount = %d, want 1", stat.FragmentCount)
	}

	if stat.DataEnd < stat.DataStart {
		t.Fatalf("Stat().DataEnd %d < DataStart %d", stat.DataEnd, stat.DataStart)
	}
}
