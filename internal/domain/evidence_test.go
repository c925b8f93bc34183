package domain

import "testing"

func TestParsePostURL(t *testing.T) {
	cases := []struct {
		in        string
		author    string
		postID    string
		canonical string
		wantErr   bool
	}{
		{in: "https://x.com/Alice/status/123", author: "alice", postID: "123", canonical: "https://x.com/i/status/123"},
		{in: "https://twitter.com/alice/status/123?s=20&t=abc", author: "alice", postID: "123", canonical: "https://x.com/i/status/123"},
		{in: "mobile.twitter.com/alice/statuses/123/photo/1", author: "alice", postID: "123", canonical: "https://x.com/i/status/123"},
		{in: "https://www.x.com/i/web/status/456", postID: "456", canonical: "https://x.com/i/status/456"},
		{in: "https://x.com/i/status/456", postID: "456", canonical: "https://x.com/i/status/456"},
		{in: "https://warpcast.com/dwr/0xABCDEF12", author: "dwr", postID: "0xabcdef12", canonical: "https://warpcast.com/dwr/0xabcdef12"},
		{in: "https://example.com/alice/status/123", wantErr: true},
		{in: "https://x.com/alice", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			ref, err := ParsePostURL(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if ref.Author != tc.author || ref.PostID != tc.postID || ref.Canonical != tc.canonical {
				t.Fatalf("unexpected ref: %+v", ref)
			}
		})
	}
}

func TestNormalizeEvidenceURL(t *testing.T) {
	if got := NormalizeEvidenceURL("https://twitter.com/bob/status/9?ref=1"); got != "https://x.com/i/status/9" {
		t.Fatalf("unexpected tweet identity: %s", got)
	}
	if got := NormalizeEvidenceURL("https://Blog.Example.com/post/1/?utm=x#top"); got != "https://blog.example.com/post/1" {
		t.Fatalf("unexpected generic identity: %s", got)
	}
}
