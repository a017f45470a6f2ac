package dataset

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNamingConventions(t *testing.T) {
	y := Year(2019)
	if got := y.TableName(); got != "brfss_2019" {
		t.Errorf("TableName() = %q, want %q", got, "brfss_2019")
	}
	if got := y.ReferenceName(); got != "2019-info" {
		t.Errorf("ReferenceName() = %q, want %q", got, "2019-info")
	}
}

func TestReferenceYearsSubsetOfKnown(t *testing.T) {
	for _, y := range ReferenceYears() {
		if !IsKnown(y) {
			t.Errorf("reference year %d is not a known year", y)
		}
	}
	if HasReference(2023) {
		t.Error("2023 should not have a reference document")
	}
}

func TestKnownYearsReturnsCopy(t *testing.T) {
	ys := KnownYears()
	ys[0] = 1999
	if KnownYears()[0] != 2016 {
		t.Fatal("mutating the returned slice changed the package list")
	}
}

func TestParseYears(t *testing.T) {
	tests := []struct {
		in      string
		want    []Year
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "2018", want: []Year{2018}},
		{in: "2019, 2018", want: []Year{2019, 2018}},
		{in: "2015", wantErr: true},
		{in: "20x8", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseYears(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseYears(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseYears(%q): %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseYears(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestSortYears(t *testing.T) {
	got := SortYears([]Year{2020, 2016, 2020, 2018})
	want := []Year{2016, 2018, 2020}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortYears mismatch (-want +got):\n%s", diff)
	}
}

func TestTableFromName(t *testing.T) {
	if y, ok := TableFromName("brfss_2021"); !ok || y != 2021 {
		t.Errorf("TableFromName(brfss_2021) = %d, %v", y, ok)
	}
	if y, ok := TableFromName("BRFSS_2016"); !ok || y != 2016 {
		t.Errorf("TableFromName(BRFSS_2016) = %d, %v", y, ok)
	}
	for _, name := range []string{"brfss_1999", "drafts", "brfss_x"} {
		if _, ok := TableFromName(name); ok {
			t.Errorf("TableFromName(%q) should not match", name)
		}
	}
}
