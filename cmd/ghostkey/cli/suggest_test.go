// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"ab", "abc", 1},
		{"abc", "bac", 2},
		{"kitten", "sitting", 3},
		{"version", "verison", 2},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if reverse := levenshtein(test.b, test.a); reverse != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, not symmetric", test.b, test.a, reverse)
		}
	}
}

func TestClosest(t *testing.T) {
	tests := []struct {
		unknown    string
		candidates []string
		want       string
	}{
		{"abc", []string{"abd", "abe"}, "abd"},
		{"abc", []string{"abe", "abd"}, "abe"},
		{"abc", []string{"xyz"}, "xyz"},
		{"abc", []string{"wxyz"}, ""},
		{"abc", nil, ""},
	}
	for _, test := range tests {
		if got := closest(test.unknown, test.candidates); got != test.want {
			t.Errorf("closest(%q, %q) = %q, want %q", test.unknown, test.candidates, got, test.want)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{{Name: "generate-master-key"}, {Name: "generate-delegate"}, {Name: "version"}}
	tests := []struct {
		input string
		want  string
	}{
		{"versoin", "version"},
		{"generate-delgate", "generate-delegate"},
		{"sign", ""},
	}
	for _, test := range tests {
		if got := suggestCommand(test.input, commands); got != test.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flagSet.String("delegate-dir", "", "")
	flagSet.BoolP("verbose", "v", false, "")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--delegate-dri", "x"}, "--delegate-dir"},
		{[]string{"--verbos"}, "--verbose"},
		{[]string{"-v", "--delegat-dir=x"}, "--delegate-dir"},
		{[]string{"--completely-different"}, ""},
		{[]string{"--", "--delegate-dri"}, ""},
	}
	for _, test := range tests {
		if got := suggestFlag(test.args, flagSet); got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
