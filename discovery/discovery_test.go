package discovery

import (
	"reflect"
	"strings"
	"testing"
)

func listing(links ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="date-table">`)
	for _, l := range links {
		b.WriteString(`<div class="table-row">`)
		if l != "" {
			b.WriteString(`<a href="/detail">` + l + `</a>`)
		}
		b.WriteString(`<span>x</span></div>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func TestParseLinkDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024/01/02(火)", "2024-01-02", true},
		{"  2024/12/31 ", "2024-12-31", true},
		{"2024/02/30", "", false},
		{"not a date", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseLinkDate(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseLinkDate(%q) = %q,%v; want %q,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestSlashForm(t *testing.T) {
	if got := SlashForm("2024-01-02"); got != "2024/01/02" {
		t.Errorf("SlashForm: got %q", got)
	}
}

func TestDiscover_ReversedOrder(t *testing.T) {
	html := listing("2024/01/03(水)", "2024/01/02(火)", "2024/01/01(月)")
	got, err := Discover(html, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Discover: got %v, want %v", got, want)
	}
}

func TestDiscover_SkipsPersisted(t *testing.T) {
	html := listing("2024/01/02(火)", "2024/01/01(月)")
	persisted := map[string]bool{"2024-01-01": true}

	first, err := Discover(html, persisted, 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Discover(html, persisted, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, run := range [][]string{first, second} {
		if !reflect.DeepEqual(run, []string{"2024-01-02"}) {
			t.Errorf("Discover: got %v, want [2024-01-02]", run)
		}
	}
}

func TestDiscover_MalformedRowsSkipped(t *testing.T) {
	html := listing("2024/01/02(火)", "", "garbage", "2024/13/01", "2024/01/01(月)")
	got, err := Discover(html, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-01-01", "2024-01-02"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Discover: got %v, want %v", got, want)
	}
}

func TestDiscover_Duplicates(t *testing.T) {
	html := listing("2024/01/01(月)", "2024/01/01(月)")
	got, _ := Discover(html, nil, 0)
	if len(got) != 1 {
		t.Errorf("Discover: got %v, want a single date", got)
	}
}

func TestDiscover_LimitKeepsLatest(t *testing.T) {
	html := listing("2024/01/05", "2024/01/01", "2024/01/04", "2024/01/02", "2024/01/03")
	got, err := Discover(html, map[string]bool{"2024-01-05": true}, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-01-03", "2024-01-04"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Discover: got %v, want %v", got, want)
	}
}

func TestDiscover_NoRows(t *testing.T) {
	got, err := Discover("<html><body><p>maintenance</p></body></html>", nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Discover: got %v, want empty", got)
	}
}
