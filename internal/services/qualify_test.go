package services

import (
	"reflect"
	"testing"
)

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "none", content: "hello there", want: nil},
		{name: "plain", content: "hey <@100> look at this", want: []string{"100"}},
		{name: "nickname form", content: "<@!200> ping", want: []string{"200"}},
		{name: "dedup keeps order", content: "<@300> and <@400> and <@300> again", want: []string{"300", "400"}},
		{name: "ignores custom emoji", content: "nice <:wave:555>", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentions(tt.content)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("want=%v got=%v", tt.want, got)
			}
		})
	}
}

func TestQualifiesForBuffer(t *testing.T) {
	prefixes := []string{"!", "?", "."}
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{name: "normal sentence", content: "did anyone finish the raid", want: true},
		{name: "empty", content: "", want: false},
		{name: "whitespace only", content: "   ", want: false},
		{name: "command prefix", content: "!rank", want: false},
		{name: "question prefix", content: "?help", want: false},
		{name: "emoji only", content: "\U0001F602\U0001F602", want: false},
		{name: "custom emoji only", content: "<:pog:123><:pog:123>", want: false},
		{name: "mention only", content: "<@100>", want: false},
		{name: "mention plus text", content: "<@100> come online", want: true},
		{name: "too few word chars", content: "ok", want: false},
		{name: "three word chars", content: "yes", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QualifiesForBuffer(tt.content, prefixes, 3)
			if got != tt.want {
				t.Fatalf("content=%q want=%v got=%v", tt.content, tt.want, got)
			}
		})
	}
}

func TestContainsName(t *testing.T) {
	tests := []struct {
		name    string
		content string
		names   []string
		want    bool
	}{
		{name: "exact word", content: "ask Marcus about it", names: []string{"marcus"}, want: true},
		{name: "case insensitive", content: "MARCUS knows", names: []string{"Marcus"}, want: true},
		{name: "substring of word does not match", content: "supermarcusfan is here", names: []string{"marcus"}, want: false},
		{name: "short names skipped", content: "say no to that", names: []string{"no"}, want: false},
		{name: "punctuation boundary", content: "thanks, marcus!", names: []string{"marcus"}, want: true},
		{name: "second occurrence at boundary", content: "marcusish but also marcus said so", names: []string{"marcus"}, want: true},
		{name: "no names", content: "anything", names: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ContainsName(tt.content, tt.names)
			if got != tt.want {
				t.Fatalf("content=%q names=%v want=%v got=%v", tt.content, tt.names, tt.want, got)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short unchanged", in: "hello", max: 10, want: "hello"},
		{name: "cut with ellipsis", in: "hello world", max: 5, want: "hello..."},
		{name: "zero max unchanged", in: "hello", max: 0, want: "hello"},
		{name: "multibyte boundary", in: "héllo", max: 2, want: "h..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			if got != tt.want {
				t.Fatalf("truncate(%q, %d): want=%q got=%q", tt.in, tt.max, tt.want, got)
			}
		})
	}
}
