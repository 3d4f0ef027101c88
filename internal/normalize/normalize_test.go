package normalize

import "testing"

func TestKeyCollapsesCaseAndWhitespace(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"The Beatles", "beatles"},
		{"the beatles", "beatles"},
		{"THE  BEATLES ", "beatles"},
		{"  Radiohead  ", "radiohead"},
		{"An Evening With...", "evening with"},
		{"A Tribe Called Quest", "tribe called quest"},
		{"The A Team", "team"},
		{"", ""},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got := Key(c.in)
			if got != c.want {
				t.Errorf("Key(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestKeyIsIdempotent(t *testing.T) {
	inputs := []string{"The Beatles", "THE  BEATLES ", "Radiohead", "", "Café Tacvba", "The A Team"}
	for _, in := range inputs {
		once := Key(in)
		twice := Key(once)
		if once != twice {
			t.Errorf("Key(Key(%q)) = %q, want %q (idempotence)", in, twice, once)
		}
	}
}

func TestArtistKeyBucketsUnknown(t *testing.T) {
	if got := ArtistKey("", true); got != UnknownArtistBucket {
		t.Errorf("ArtistKey(\"\", true) = %q, want sentinel bucket", got)
	}
	if got := ArtistKey("   ", true); got != UnknownArtistBucket {
		t.Errorf("ArtistKey(\"   \", true) = %q, want sentinel bucket", got)
	}
	if got := ArtistKey("", false); got != "" {
		t.Errorf("ArtistKey(\"\", false) = %q, want empty string", got)
	}
}

func TestArtistKeyNonEmptyIgnoresBucketFlag(t *testing.T) {
	a := ArtistKey("The Beatles", true)
	b := ArtistKey("The Beatles", false)
	if a != b || a != "beatles" {
		t.Errorf("ArtistKey with non-empty artist should ignore bucket flag: got %q, %q", a, b)
	}
}

func TestTitleKeyMatchesGeneralNormalization(t *testing.T) {
	if got := TitleKey("  Help!  "); got != "help" {
		t.Errorf("TitleKey(\"  Help!  \") = %q, want \"help\"", got)
	}
}
