package vm

import (
	"sync"
	"testing"
)

func TestSelectorIntern(t *testing.T) {
	st := NewSelectorTable(false)
	a := st.Intern("speak")
	b := st.Intern("run")
	if a == b {
		t.Fatal("distinct names share an ID")
	}
	if st.Intern("speak") != a {
		t.Error("re-interning changed the ID")
	}
	if st.Name(b) != "run" {
		t.Errorf("Name(%d) = %q", b, st.Name(b))
	}
	if st.Lookup("missing") != NoSelector {
		t.Error("Lookup of unknown name should return NoSelector")
	}
	if st.Name(Selector(99)) != "" {
		t.Error("Name of unknown ID should be empty")
	}
	ids := st.InternAll("speak", "jump")
	if ids[0] != a || st.Len() != 3 {
		t.Errorf("InternAll = %v, len %d", ids, st.Len())
	}
}

func TestSelectorNormalization(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	st := NewSelectorTable(true)
	if st.Intern(composed) != st.Intern(decomposed) {
		t.Error("NFC-equivalent names should intern to one selector")
	}
	raw := NewSelectorTable(false)
	if raw.Intern(composed) == raw.Intern(decomposed) {
		t.Error("without normalization the names differ")
	}
}

func TestSelectorConcurrentIntern(t *testing.T) {
	st := NewSelectorTable(true)
	names := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, n := range names {
				st.Intern(n)
			}
		}()
	}
	wg.Wait()
	if st.Len() != len(names) {
		t.Errorf("len = %d, want %d", st.Len(), len(names))
	}
}
