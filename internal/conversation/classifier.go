package conversation

import "strings"

// Decision is a free-text reply reduced to a structured negotiation choice.
type Decision int

const (
	// DecisionNone means the text is neither an affirmation nor a negation.
	DecisionNone Decision = iota
	DecisionAffirm
	DecisionNegate
)

// DecisionClassifier turns a free-text reply into a Decision before it
// reaches the negotiator. The matching policy is pluggable; the default is
// a deterministic keyword matcher.
type DecisionClassifier interface {
	Classify(text string) Decision
}

// KeywordClassifier matches common English and Japanese affirmation and
// negation markers. It checks negations first so "no thanks" never reads as
// an affirmation.
type KeywordClassifier struct{}

var negativeMarkers = []string{
	"no", "nope", "nothing", "none", "skip", "pass", "not really",
	"that's all", "thats all", "i'm good", "im good",
	"いいえ", "いらない", "ない", "結構", "大丈夫", "やめ",
}

var affirmativeMarkers = []string{
	"yes", "yeah", "yep", "sure", "ok", "okay", "go there", "let's go",
	"sounds good", "that one", "perfect",
	"はい", "うん", "行く", "行きたい", "いいね", "そこ", "お願い", "決まり",
}

func (KeywordClassifier) Classify(text string) Decision {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return DecisionNone
	}
	for _, m := range negativeMarkers {
		if matchesMarker(t, m) {
			return DecisionNegate
		}
	}
	for _, m := range affirmativeMarkers {
		if matchesMarker(t, m) {
			return DecisionAffirm
		}
	}
	return DecisionNone
}

// matchesMarker requires word boundaries around the marker, so "pass"
// never fires inside "overpass". Short markers ("no", "ok") only match
// exactly or as a leading word. Boundary checks are byte-based; multi-byte
// neighbours (Japanese text) never count as word characters.
func matchesMarker(t, m string) bool {
	if t == m || strings.HasPrefix(t, m+" ") || strings.HasPrefix(t, m+",") {
		return true
	}
	return len(m) > 2 && containsWord(t, m)
}

func containsWord(t, m string) bool {
	for from := 0; ; {
		i := strings.Index(t[from:], m)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(m)
		if (start == 0 || !isWordByte(t[start-1])) && (end == len(t) || !isWordByte(t[end])) {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return 'a' <= b && b <= 'z' || '0' <= b && b <= '9'
}
