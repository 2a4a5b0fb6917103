package urlnorm

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "tracking params and default port",
			in:   "https://Example.COM:443/a/?utm_source=x&b=2&a=1#frag",
			want: "https://example.com/a?a=1&b=2",
		},
		{
			name: "lowercase host keeps path case",
			in:   "https://Site.com/Article?id=123",
			want: "https://site.com/Article?id=123",
		},
		{
			name: "non-default port kept",
			in:   "http://example.com:8080/x",
			want: "http://example.com:8080/x",
		},
		{
			name: "http default port removed",
			in:   "http://example.com:80/x",
			want: "http://example.com/x",
		},
		{
			name: "empty path becomes root",
			in:   "https://example.com",
			want: "https://example.com/",
		},
		{
			name: "root trailing slash kept",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
		{
			name: "fragment stripped",
			in:   "https://example.com/page#comments",
			want: "https://example.com/page",
		},
		{
			name: "all tracking removed leaves no query",
			in:   "https://example.com/p?utm_source=a&utm_medium=b&fbclid=zzz",
			want: "https://example.com/p",
		},
		{
			name: "hsa prefix removed",
			in:   "https://example.com/p?hsa_acc=1&hsa_cam=2&q=go",
			want: "https://example.com/p?q=go",
		},
		{
			name: "query sorted",
			in:   "https://example.com/p?z=1&a=2&m=3",
			want: "https://example.com/p?a=2&m=3&z=1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.in)
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	rejected := []string{
		"",
		"http://u:p@host/x",
		"http://user@host/x",
		"ftp://example.com/file",
		"javascript:alert(1)",
		"https://",
		"not a url at all ://",
	}

	for _, in := range rejected {
		if got := Normalize(in); got != "" {
			t.Errorf("Normalize(%q) = %q, want rejection", in, got)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://Example.COM:443/a/?utm_source=x&b=2&a=1#frag",
		"http://example.com:80/path/sub/?z=9&a=1",
		"https://example.com",
		"https://example.com/p?q=hello%20world&x=%2Fslash",
		"https://example.com/p?ref=rss&id=1",
	}

	for _, in := range inputs {
		once := Normalize(in)
		if once == "" {
			t.Fatalf("Normalize(%q) unexpectedly rejected", in)
		}
		twice := Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestDomain(t *testing.T) {
	if got := Domain("https://News.Example.com/path"); got != "news.example.com" {
		t.Errorf("Domain = %q", got)
	}
	if got := Domain("::bad::"); got != "" {
		t.Errorf("Domain on invalid input = %q, want empty", got)
	}
}
