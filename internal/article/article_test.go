package article

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"esg_news/internal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercase and collapse", in: "  Solar   Safety\tIncident ", want: "solar safety incident"},
		{name: "punctuation becomes space", in: "RE100: \"green\" hydrogen, plant-A!", want: "re100 green hydrogen plant a"},
		{name: "hangul kept", in: "두산퓨얼셀, 수소 발전", want: "두산퓨얼셀 수소 발전"},
		{name: "only punctuation", in: "--- !!", want: ""},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Normalize(tt.in)); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCanonicalLink(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops utm and fragment",
			in:   "https://News.Example.com/a/1/?utm_source=x&utm_medium=y&id=7#top",
			want: "https://news.example.com/a/1?id=7",
		},
		{
			name: "drops click ids",
			in:   "https://example.com/story?fbclid=abc&gclid=def",
			want: "https://example.com/story",
		},
		{
			name: "not a url",
			in:   "  plain text ",
			want: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, CanonicalLink(tt.in)); diff != "" {
				t.Errorf("CanonicalLink() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFingerprintIgnoresTracking(t *testing.T) {
	a := Fingerprint("Solar Safety Incident", "https://example.com/a?utm_source=feed")
	b := Fingerprint("solar  safety incident!", "https://example.com/a")
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "sha256:") {
		t.Errorf("expected sha256 prefix, got %q", a)
	}
	if c := Fingerprint("Solar Safety Incident", "https://example.com/b"); c == a {
		t.Error("different links produced the same fingerprint")
	}
}

func TestNew(t *testing.T) {
	pub := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	got := New("  Wind   Farm Approved ", "Council  approves\nexpansion.", " https://example.com/w ", "example", &pub)

	if diff := cmp.Diff("Wind Farm Approved", got.Title); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("wind farm approved", got.NormTitle); diff != "" {
		t.Errorf("norm title mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("council approves expansion", got.NormBody); diff != "" {
		t.Errorf("norm body mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("https://example.com/w", got.Link); diff != "" {
		t.Errorf("link mismatch (-want +got):\n%s", diff)
	}
	if got.ID != Fingerprint("Wind Farm Approved", "https://example.com/w") {
		t.Errorf("unexpected id %q", got.ID)
	}
}

func TestRenormalizeResult(t *testing.T) {
	res := model.AnalysisResult{Clusters: []model.ArticleCluster{
		{Representative: model.Article{ID: "a", Title: "Plant  FIRE", Body: "Smoke, seen."}},
		{Representative: model.Article{ID: "b", Title: "공장 화재"}},
	}}
	RenormalizeResult(&res)

	var got [][2]string
	for _, c := range res.Clusters {
		got = append(got, [2]string{c.Representative.NormTitle, c.Representative.NormBody})
	}
	want := [][2]string{{"plant fire", "smoke seen"}, {"공장 화재", ""}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("normalized fields mismatch (-want +got):\n%s", diff)
	}
}
