package keypool

import (
	"testing"
)

func TestLoadSplitsAndDeduplicates(t *testing.T) {
	t.Parallel()

	pool := Load(" sk-a | sk-b |sk-a|  | sk-c ")
	if pool.Size() != 3 {
		t.Fatalf("expected 3 credentials, got %d", pool.Size())
	}
	want := []Credential{"sk-a", "sk-b", "sk-c"}
	for i, w := range want {
		if pool.At(i) != w {
			t.Errorf("At(%d) = %q, want %q", i, pool.At(i), w)
		}
	}
}

func TestLoadEmptyProducesEmptyPool(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "|", " | | "} {
		if got := Load(raw).Size(); got != 0 {
			t.Errorf("Load(%q).Size() = %d, want 0", raw, got)
		}
	}
}

func TestPickStartUsesInjectedRand(t *testing.T) {
	t.Parallel()

	pool := Load("k1|k2|k3", WithRandIndex(func(n int) int {
		if n != 3 {
			t.Errorf("rand source called with n=%d, want 3", n)
		}
		return 2
	}))
	i, cred := pool.PickStart()
	if i != 2 || cred != "k3" {
		t.Fatalf("PickStart() = (%d, %q), want (2, k3)", i, cred)
	}
}

func TestNextCyclesThroughAllCredentials(t *testing.T) {
	t.Parallel()

	for size := 1; size <= 5; size++ {
		raw := ""
		for i := 0; i < size; i++ {
			raw += Delimiter + "k" + string(rune('a'+i))
		}
		pool := Load(raw)
		if pool.Size() != size {
			t.Fatalf("pool size = %d, want %d", pool.Size(), size)
		}
		for start := 0; start < size; start++ {
			seen := map[int]bool{start: true}
			i := start
			for {
				i = pool.Next(i)
				if i == start {
					break
				}
				if seen[i] {
					t.Fatalf("size %d start %d: revisited index %d before closing the cycle", size, start, i)
				}
				seen[i] = true
			}
			if len(seen) != size {
				t.Fatalf("size %d start %d: cycle visited %d indices, want %d", size, start, len(seen), size)
			}
		}
	}
}

func TestStartAtFindsPreferredCredential(t *testing.T) {
	t.Parallel()

	pool := Load("k1|k2|k3")
	fp := Credential("k2").Fingerprint()

	i, cred, ok := pool.StartAt(fp)
	if !ok || i != 1 || cred != "k2" {
		t.Fatalf("StartAt(%q) = (%d, %q, %v), want (1, k2, true)", fp, i, cred, ok)
	}

	if _, _, ok := pool.StartAt("feedfeedfeed"); ok {
		t.Fatal("StartAt with unknown fingerprint should not match")
	}
	if _, _, ok := pool.StartAt(""); ok {
		t.Fatal("StartAt with empty fingerprint should not match")
	}
}

func TestFingerprintIsStableAndShort(t *testing.T) {
	t.Parallel()

	a := Credential("sk-test").Fingerprint()
	b := Credential("sk-test").Fingerprint()
	if a != b {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	if len(a) != 12 {
		t.Fatalf("fingerprint length = %d, want 12", len(a))
	}
	if Credential("sk-other").Fingerprint() == a {
		t.Fatal("distinct credentials produced identical fingerprints")
	}
}
