package places

// DefaultSpots is the starter set of favorite places indexed for every new
// session. A real deployment would load these from the user's profile.
func DefaultSpots() []Spot {
	return []Spot{
		{
			ID:          "blue-bottle-kiyosumi",
			Name:        "Blue Bottle Coffee Kiyosumi-Shirakawa",
			Description: "Quiet specialty coffee roastery in a converted warehouse. Pour-over single origin, minimal interior, good for a calm break.",
			Category:    "cafe",
		},
		{
			ID:          "yoyogi-park",
			Name:        "Yoyogi Park",
			Description: "Large open park with wide lawns and tree-lined paths. Good for a walk, a picnic, or just stretching your legs.",
			Category:    "park",
		},
		{
			ID:          "mori-art-museum",
			Name:        "Mori Art Museum",
			Description: "Contemporary art museum on the top floors of Roppongi Hills, with a city observation deck next door.",
			Category:    "museum",
		},
		{
			ID:          "tsukiji-outer-market",
			Name:        "Tsukiji Outer Market",
			Description: "Bustling food market streets. Fresh seafood bowls, tamagoyaki, street snacks, and kitchen shops.",
			Category:    "food",
		},
		{
			ID:          "inokashira-park",
			Name:        "Inokashira Park",
			Description: "Pond-side park with rowing boats, cherry trees, and a small zoo. Relaxed neighborhood feel near Kichijoji.",
			Category:    "park",
		},
	}
}
