package agents

import "fmt"

// Name pools for generated people: First "Nickname" Last.
var firstNames = []string{
	"Ada", "Bruno", "Celia", "Dmitri", "Edith", "Felix", "Greta", "Hector",
	"Ines", "Jonas", "Klara", "Lukas", "Marta", "Nico", "Olga", "Pavel",
	"Rosa", "Stefan", "Tilda", "Viktor", "Wanda", "Xaver", "Yvonne", "Zofia",
	"Anton", "Beata", "Cyril", "Dora", "Emil", "Frida", "Gustav", "Hana",
}

var nicknames = []string{
	"Ace", "Buttons", "Chips", "Dusty", "Easy", "Flash", "Goose", "Honest",
	"Ink", "Jinx", "Knuckles", "Lucky", "Moneybags", "Nails", "Penny", "Quick",
	"Red", "Slim", "Tiny", "Whistle",
}

var lastNames = []string{
	"Abbott", "Baker", "Carver", "Dalton", "Ellis", "Fletcher", "Granger",
	"Hollis", "Irving", "Jarvis", "Keller", "Lowell", "Mercer", "Norton",
	"Oakley", "Porter", "Quincy", "Ramsey", "Sawyer", "Tanner", "Underwood",
	"Vance", "Walker", "Yates",
}

func (s *Spawner) generateName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	nick := nicknames[s.rng.Intn(len(nicknames))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return fmt.Sprintf("%s %q %s", first, nick, last)
}
