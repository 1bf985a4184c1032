package rules

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, entries ...Entry) *RuleSet {
	t.Helper()
	rs, err := Compile(entries)
	require.NoError(t, err)
	return rs
}

func TestCompile(t *testing.T) {
	t.Run("keeps order", func(t *testing.T) {
		rs := mustCompile(t,
			Entry{Pattern: `a\.com`, Answer: "1.1.1.1"},
			Entry{Pattern: `com`, Answer: "2.2.2.2"},
		)
		require.Equal(t, 2, rs.Len())
		assert.Equal(t, []Entry{
			{Pattern: `a\.com`, Answer: "1.1.1.1"},
			{Pattern: `com`, Answer: "2.2.2.2"},
		}, rs.Entries())
	})

	t.Run("invalid pattern aborts", func(t *testing.T) {
		_, err := Compile([]Entry{
			{Pattern: `ok`, Answer: "1.1.1.1"},
			{Pattern: `(`, Answer: "1.1.1.1"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rule 1")
	})

	t.Run("empty answer rejected", func(t *testing.T) {
		_, err := Compile([]Entry{{Pattern: `a`, Answer: ""}})
		assert.Error(t, err)
	})

	t.Run("empty input is an empty set", func(t *testing.T) {
		rs := mustCompile(t)
		assert.Equal(t, 0, rs.Len())
		assert.Equal(t, []Entry{}, rs.Entries())
	})
}

func TestRuleSetFirst(t *testing.T) {
	rs := mustCompile(t,
		Entry{Pattern: `a\.com`, Answer: "1.1.1.1"},
		Entry{Pattern: `\.com$`, Answer: DoNothing},
	)

	tests := []struct {
		name       string
		query      string
		wantOK     bool
		wantAnswer string
	}{
		{"first rule wins", "a.com", true, "1.1.1.1"},
		{"later rule", "b.com", true, DoNothing},
		{"no match", "b.org", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := rs.First(tt.query)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantAnswer, r.Answer())
		})
	}

	r, _ := rs.First("b.com")
	assert.True(t, r.Suppresses())
}

func TestNilRuleSet(t *testing.T) {
	var rs *RuleSet
	_, ok := rs.First("a.com")
	assert.False(t, ok)
	assert.Equal(t, 0, rs.Len())
	assert.Nil(t, rs.Rules())
}

func TestRulesReturnsCopy(t *testing.T) {
	rs := mustCompile(t, Entry{Pattern: `a`, Answer: "1.1.1.1"})
	got := rs.Rules()
	got[0] = Rule{}
	assert.Equal(t, "a", rs.Rules()[0].Pattern())
}

func TestStoreReplaceAll(t *testing.T) {
	s := NewStore()
	_, ok := s.Lookup("10.0.0.1")
	assert.False(t, ok)

	sets := map[string]*RuleSet{
		"10.0.0.1": mustCompile(t, Entry{Pattern: `a`, Answer: "1.1.1.1"}),
	}
	s.ReplaceAll(sets)

	// caller's later changes are not observed
	sets["10.0.0.2"] = NewRuleSet()

	rs, ok := s.Lookup("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, 1, rs.Len())
	_, ok = s.Lookup("10.0.0.2")
	assert.False(t, ok)

	s.ReplaceAll(map[string]*RuleSet{"10.0.0.2": nil})
	_, ok = s.Lookup("10.0.0.1")
	assert.False(t, ok)
	rs, ok = s.Lookup("10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, 0, rs.Len())
}

func TestStoreReplaceForLeavesOthers(t *testing.T) {
	s := NewStore()
	x := mustCompile(t, Entry{Pattern: `x`, Answer: "1.1.1.1"})
	y := mustCompile(t, Entry{Pattern: `y`, Answer: "2.2.2.2"})
	s.ReplaceAll(map[string]*RuleSet{"A": x, "B": y})

	before := s.Snapshot()
	z := mustCompile(t, Entry{Pattern: `z`, Answer: "3.3.3.3"})
	s.ReplaceFor("A", z)

	got, _ := s.Lookup("A")
	assert.Same(t, z, got)
	got, _ = s.Lookup("B")
	assert.Same(t, y, got)

	// the previous generation is unchanged
	old, _ := before.Lookup("A")
	assert.Same(t, x, old)
	assert.Equal(t, []string{"A", "B"}, s.Snapshot().Clients())
}

func TestStoreConcurrentReadersSeeWholeSets(t *testing.T) {
	s := NewStore()
	x := mustCompile(t, Entry{Pattern: `x1`, Answer: "1"}, Entry{Pattern: `x2`, Answer: "1"})
	y := mustCompile(t, Entry{Pattern: `y1`, Answer: "2"}, Entry{Pattern: `y2`, Answer: "2"}, Entry{Pattern: `y3`, Answer: "2"})
	s.ReplaceFor("A", x)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rs, ok := s.Lookup("A")
				if !ok {
					errs <- fmt.Errorf("missing set")
					return
				}
				if rs != x && rs != y {
					errs <- fmt.Errorf("unexpected set with %d rules", rs.Len())
					return
				}
				answers := map[string]bool{}
				for _, r := range rs.Rules() {
					answers[r.Answer()] = true
				}
				if len(answers) != 1 {
					errs <- fmt.Errorf("torn set: %v", answers)
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			s.ReplaceFor("A", y)
		} else {
			s.ReplaceFor("A", x)
		}
	}
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
