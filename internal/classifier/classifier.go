// Package classifier decides whether a caption describes fire.
package classifier

import (
	"strings"

	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

// DefaultKeywords is the stock match list, checked in order
var DefaultKeywords = []string{
	"fire",
	"burning",
	"flame",
	"flames",
	"smoke",
	"smoky",
	"blaze",
	"inferno",
	"combustion",
	"ignition",
	"smoldering",
}

// Classifier matches captions against an ordered keyword list.
// The list is fixed at construction.
type Classifier struct {
	keywords []string
}

// New builds a classifier over a lower-cased copy of keywords.
// Empty entries are skipped since they would match every caption.
func New(keywords []string) *Classifier {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		kw = append(kw, k)
	}
	return &Classifier{keywords: kw}
}

// Keywords returns a copy of the match list
func (c *Classifier) Keywords() []string {
	out := make([]string, len(c.keywords))
	copy(out, c.keywords)
	return out
}

// Classify reports the first keyword contained in the lower-cased caption.
// Matching is plain substring containment, so "fire" also hits "fireplace".
func (c *Classifier) Classify(caption string) types.Verdict {
	lower := strings.ToLower(caption)
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return types.Verdict{IsFire: true, Keyword: k}
		}
	}
	return types.Verdict{}
}
