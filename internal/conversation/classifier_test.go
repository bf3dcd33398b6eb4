package conversation

import "testing"

func TestKeywordClassifier(t *testing.T) {
	cases := []struct {
		text string
		want Decision
	}{
		{"yes", DecisionAffirm},
		{"Yes, go there", DecisionAffirm},
		{"sounds good to me", DecisionAffirm},
		{"はい", DecisionAffirm},
		{"そこに行きたい", DecisionAffirm},
		{"no", DecisionNegate},
		{"no, show next", DecisionNegate},
		{"nothing else, thanks", DecisionNegate},
		{"いいえ", DecisionNegate},
		{"大丈夫です", DecisionNegate},
		{"what's the weather like", DecisionNone},
		{"", DecisionNone},
		{"   ", DecisionNone},
	}
	c := KeywordClassifier{}
	for _, tc := range cases {
		if got := c.Classify(tc.text); got != tc.want {
			t.Fatalf("Classify(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestNegationsWinOverAffirmations(t *testing.T) {
	// "no thanks, that one is fine another time" carries both kinds of
	// markers; the negation must take precedence.
	c := KeywordClassifier{}
	if got := c.Classify("no, that one is not for me"); got != DecisionNegate {
		t.Fatalf("got %v, want DecisionNegate", got)
	}
}

func TestMarkersMatchWholeWordsOnly(t *testing.T) {
	cases := []struct {
		text string
		want Decision
	}{
		// "pass" inside "overpass" is not a refusal.
		{"overpass views", DecisionNone},
		{"a compass museum", DecisionNone},
		{"the passage near the station", DecisionNone},
		{"I'll pass on that", DecisionNegate},
		{"skip it", DecisionNegate},
	}
	c := KeywordClassifier{}
	for _, tc := range cases {
		if got := c.Classify(tc.text); got != tc.want {
			t.Fatalf("Classify(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestPlaceNamesAreNotDecisions(t *testing.T) {
	// Short markers match whole words only, so place names containing
	// them do not read as answers.
	c := KeywordClassifier{}
	if got := c.Classify("Yokohama"); got != DecisionNone {
		t.Fatalf("Classify(Yokohama) = %v, want DecisionNone", got)
	}
}
