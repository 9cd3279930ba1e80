package filter

import (
	"sort"
	"strings"

	"FlowtrackAPI/internal/model"
)

// Token is one parsed ordering item: "field" or "-field".
type Token struct {
	Field string
	Desc  bool
}

func ParseToken(s string) Token {
	s = strings.TrimSpace(s)
	return Token{
		Field: strings.TrimLeft(s, "-+"),
		Desc:  strings.HasPrefix(s, "-"),
	}
}

func (t Token) String() string {
	if t.Desc {
		return "-" + t.Field
	}
	return t.Field
}

// NormalizeOrdering splits comma-delimited tokens, drops fields outside the
// allow-list and rejects any field that survives more than once.
func NormalizeOrdering(def model.OrderingDef, raw []string) ([]string, error) {
	var out []string
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			tok := strings.TrimSpace(part)
			if tok == "" || !def.Allowed(ParseToken(tok).Field) {
				continue
			}
			out = append(out, tok)
		}
	}
	if err := checkAmbiguous(out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkAmbiguous: одно поле сортировки не может встречаться дважды, даже с разным направлением
func checkAmbiguous(tokens []string) error {
	count := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		count[ParseToken(tok).Field]++
	}
	var ambiguous []string
	for _, tok := range tokens {
		if count[ParseToken(tok).Field] > 1 {
			ambiguous = append(ambiguous, tok)
		}
	}
	if len(ambiguous) == 0 {
		return nil
	}
	sort.SliceStable(ambiguous, func(i, j int) bool {
		return ParseToken(ambiguous[i]).Field < ParseToken(ambiguous[j]).Field
	})
	return &ValidationError{Field: "ordering", Tokens: ambiguous, Message: ambiguousOrdering}
}
