package refdocs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/gemini"
)

// mockLister serves pages in order; errAt makes the page at that index fail.
type mockLister struct {
	pages     [][]gemini.File
	errAt     int
	err       error
	calls     int
	pageSizes []int
}

func (m *mockLister) ListFiles(_ context.Context, pageSize int, pageToken string) ([]gemini.File, string, error) {
	idx := m.calls
	m.calls++
	m.pageSizes = append(m.pageSizes, pageSize)
	if m.err != nil && idx == m.errAt {
		return nil, "", m.err
	}
	if idx >= len(m.pages) {
		return nil, "", nil
	}
	next := ""
	if idx < len(m.pages)-1 {
		next = "page-" + string(rune('a'+idx+1))
	}
	return m.pages[idx], next, nil
}

func TestCheck_MissingCredentialFailsFast(t *testing.T) {
	dialled := false
	c := NewChecker(func(context.Context, string) (FileLister, error) {
		dialled = true
		return &mockLister{}, nil
	})

	for _, cred := range []string{"", "   "} {
		_, err := c.Check(context.Background(), cred, []dataset.Year{2018})
		if !errors.Is(err, ErrMissingCredential) {
			t.Errorf("Check(%q) err = %v, want ErrMissingCredential", cred, err)
		}
	}
	if dialled {
		t.Error("connector was called despite missing credential")
	}
}

func TestCheck_ConnectError(t *testing.T) {
	c := NewChecker(func(context.Context, string) (FileLister, error) {
		return nil, errors.New("bad key")
	})
	_, err := c.Check(context.Background(), "key", []dataset.Year{2018})
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("err = %v, want wrapped connect error", err)
	}
}

func TestCheckPresence_Matching(t *testing.T) {
	lister := &mockLister{pages: [][]gemini.File{
		{
			{Name: "files/abc123", DisplayName: "2018-INFO"},
			{Name: "files/2019-info"},
			{Name: "files/xyz", DisplayName: "notes"},
		},
		{
			{Name: "files/2018-info", DisplayName: "2018-info"},
			{Name: "files/2016-information"},
		},
	}}

	years := []dataset.Year{2016, 2018, 2019, 2020}
	got, err := CheckPresence(context.Background(), lister, years)
	if err != nil {
		t.Fatalf("CheckPresence: %v", err)
	}

	want := PresenceReport{
		Statuses:   map[dataset.Year]bool{2016: false, 2018: true, 2019: true, 2020: false},
		FoundYears: []dataset.Year{2018, 2019},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if lister.calls != 2 {
		t.Errorf("list calls = %d, want 2", lister.calls)
	}
	for _, ps := range lister.pageSizes {
		if ps != 100 {
			t.Errorf("page size = %d, want 100", ps)
		}
	}
}

func TestCheckPresence_DuplicateYearsDeduplicated(t *testing.T) {
	lister := &mockLister{pages: [][]gemini.File{{{Name: "files/2017-info"}}}}
	got, err := CheckPresence(context.Background(), lister, []dataset.Year{2017, 2017})
	if err != nil {
		t.Fatalf("CheckPresence: %v", err)
	}
	if diff := cmp.Diff([]dataset.Year{2017}, got.FoundYears); diff != "" {
		t.Errorf("FoundYears mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckPresence_EmptyYears(t *testing.T) {
	lister := &mockLister{pages: [][]gemini.File{{{Name: "files/2017-info"}}}}
	got, err := CheckPresence(context.Background(), lister, nil)
	if err != nil {
		t.Fatalf("CheckPresence: %v", err)
	}
	want := PresenceReport{Statuses: map[dataset.Year]bool{}, FoundYears: []dataset.Year{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if lister.calls != 1 {
		t.Errorf("list calls = %d, want exactly the initial listing", lister.calls)
	}
}

func TestCheckPresence_ListErrorAborts(t *testing.T) {
	lister := &mockLister{err: errors.New("quota"), errAt: 0}
	_, err := CheckPresence(context.Background(), lister, []dataset.Year{2018})
	if err == nil || !strings.Contains(err.Error(), "listing gemini files") {
		t.Fatalf("err = %v, want listing error", err)
	}
}

func TestCheckPresence_MidStreamErrorAborts(t *testing.T) {
	lister := &mockLister{
		pages: [][]gemini.File{
			{{Name: "files/2018-info"}},
			{{Name: "files/2019-info"}},
		},
		err:   errors.New("connection reset"),
		errAt: 1,
	}
	got, err := CheckPresence(context.Background(), lister, []dataset.Year{2018})
	if err == nil || !strings.Contains(err.Error(), "iterating gemini files") {
		t.Fatalf("err = %v, want iteration error", err)
	}
	if got.Statuses != nil {
		t.Errorf("partial report returned alongside error: %+v", got)
	}
}
