package normalize

// DefaultRules returns the built-in vendor table, most specific first.
func DefaultRules() []Rule {
	return []Rule{
		// Airlines
		{Pattern: `\bDELTA AIR|\bDelta\b`, Vendor: "Delta Airlines"},
		{Pattern: `\bAMERICAN AIR|\bAmerican\b`, Vendor: "American Airlines"},
		{Pattern: `\bSouthwest\b`, Vendor: "Southwest Airlines"},
		{Pattern: `\bUnited\b`, Vendor: "United Airlines"},

		// Hotels
		{Pattern: `\bHampton Inn\b`, Vendor: "Hampton Inn"},
		{Pattern: `\bHilton\b`, Vendor: "Hilton"},
		{Pattern: `\bMarriott\b`, Vendor: "Marriott"},
		{Pattern: `\bDoubleTree\b`, Vendor: "DoubleTree"},
		{Pattern: `\bTribute Portfolio\b`, Vendor: "Tribute Portfolio Hotel"},

		// Car rental
		{Pattern: `\bHertz\b`, Vendor: "Hertz"},
		{Pattern: `\bEnterprise\b`, Vendor: "Enterprise"},

		// Parking
		{Pattern: `\bRDU\b.*\bParking\b|\bRDUAA\b`, Vendor: "RDU Airport Parking"},
		{Pattern: `\bParking\b`, Vendor: "Parking"},

		// Ride share
		{Pattern: `\bLyft\b`, Vendor: "Lyft"},
		{Pattern: `\bUber\b`, Vendor: "Uber"},

		// Software and subscriptions
		{Pattern: `\bChatGPT\b|\bOpenAI\b`, Vendor: "OpenAI"},
		{Pattern: `\bClaude\b|\bCLAUDE\.AI\b`, Vendor: "Anthropic Claude"},
		{Pattern: `\bCursor\b`, Vendor: "Cursor AI"},
		{Pattern: `\bTwilio\b`, Vendor: "Twilio"},
		{Pattern: `\bFoxit\b`, Vendor: "Foxit"},
		{Pattern: `\bFireflies\b`, Vendor: "Fireflies.AI"},
		{Pattern: `\bGoDaddy\b`, Vendor: "GoDaddy"},
		{Pattern: `\bSuperhuman\b`, Vendor: "Superhuman"},
		{Pattern: `\bElevenLabs\b`, Vendor: "ElevenLabs"},
		{Pattern: `\bAddigy\b|\bADIGY\b`, Vendor: "Addigy"},
		{Pattern: `\bPyCharm\b`, Vendor: "JetBrains PyCharm"},
		{Pattern: `\bGamma\b`, Vendor: "Gamma"},
		{Pattern: `\bStarlink\b`, Vendor: "Starlink"},
		{Pattern: `\bCrystal Reports\b`, Vendor: "SAP Crystal Reports"},

		// Utilities
		{Pattern: `\bAT&T\b|\bATT\b|\bMobile Telephone\b`, Vendor: "AT&T"},
		{Pattern: `\bGFiber\b|\bGoogle Fiber\b|\bUtilities.*Internet\b`, Vendor: "Google Fiber"},
		{Pattern: `\bVerizon\b|\bVZW\b`, Vendor: "Verizon"},

		// Retail and hardware
		{Pattern: `\bAmazon\b|\bAMZN\b`, Vendor: "Amazon"},
		{Pattern: `\bBest Buy\b`, Vendor: "Best Buy"},
		{Pattern: `\bWalmart\b`, Vendor: "Walmart"},
		{Pattern: `\bDell\b`, Vendor: "Dell"},
		{Pattern: `\bApple\b`, Vendor: "Apple"},
		{Pattern: `\bOwl Labs\b`, Vendor: "Owl Labs"},
		{Pattern: `\bUPS Store\b|\bUPS\b.*Shipping`, Vendor: "UPS"},

		// Restaurants
		{Pattern: `\bChick-fil-A\b|\bChickfila\b`, Vendor: "Chick-fil-A"},
		{Pattern: `\bChili'?s\b`, Vendor: "Chilis"},
		{Pattern: `\bFive Guys\b`, Vendor: "Five Guys"},
		{Pattern: `\bBuffalo Wild Wings\b`, Vendor: "Buffalo Wild Wings"},
		{Pattern: `\bDoorDash\b`, Vendor: "DoorDash"},
		{Pattern: `\bStarbucks\b`, Vendor: "Starbucks"},

		// Generic travel and meals
		{Pattern: `\bFlight\b`, Vendor: "Flight", Generic: true},
		{Pattern: `\bHotel\b`, Vendor: "Hotel", Generic: true},
		{Pattern: `\bCar Rental\b|\bRental Car\b`, Vendor: "Car Rental", Generic: true},
		{Pattern: `\bBreakfast\b`, Vendor: "Meal - Breakfast", Generic: true},
		{Pattern: `\bLunch\b`, Vendor: "Meal - Lunch", Generic: true},
		{Pattern: `\bDinner\b`, Vendor: "Meal - Dinner", Generic: true},
		{Pattern: `\bMeal\b`, Vendor: "Meal", Generic: true},
	}
}
