package studio

import "sort"

// Style is a named caption preset for songs that carry sung lyrics.
type Style struct {
	Name    string
	Caption string
}

var styles = map[string]Style{
	"ballad": {
		Name:    "ballad",
		Caption: "Slow piano ballad, intimate lead vocal, soft string swells, sparse drums entering in the second verse, emotional and clear diction",
	},
	"pop": {
		Name:    "pop",
		Caption: "Polished modern pop, bright synth chords, punchy kick and claps, catchy sung hook, upfront lead vocal with light harmonies",
	},
	"indie folk": {
		Name:    "indie folk",
		Caption: "Warm indie folk, strummed acoustic guitar, brushed snare, close-mic lead vocal, gentle group chorus, unhurried tempo",
	},
	"soul": {
		Name:    "soul",
		Caption: "Vintage soul groove, round electric bass, tight horn section, organ pads, powerful expressive lead vocal, mid-tempo swing",
	},
	"synthpop": {
		Name:    "synthpop",
		Caption: "Eighties synthpop, gated drums, analog arpeggios, shimmering pads, cool detached lead vocal, driving dance tempo",
	},
	"rock": {
		Name:    "rock",
		Caption: "Anthemic rock, crunchy rhythm guitars, steady live drums, melodic bass, strong belted lead vocal, big singalong chorus",
	},
	"lofi": {
		Name:    "lofi",
		Caption: "Lofi bedroom pop, dusty drum loop, mellow electric piano, tape warble, soft breathy lead vocal, relaxed late night mood",
	},
	"country": {
		Name:    "country",
		Caption: "Modern country, twangy telecaster, pedal steel fills, shuffling drums, storytelling lead vocal with a warm drawl",
	},
	"jazz": {
		Name:    "jazz",
		Caption: "Small combo vocal jazz, upright bass walking lines, brushed kit, comping piano, smooth crooned lead vocal, medium swing",
	},
}

// StyleNames returns every preset name in sorted order.
func StyleNames() []string {
	names := make([]string, 0, len(styles))
	for name := range styles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsValidStyle reports whether name is a known preset.
func IsValidStyle(name string) bool {
	_, ok := styles[name]
	return ok
}

// GetCaption returns the caption for a style. Unknown styles get a generic
// caption built from the name.
func GetCaption(style string) string {
	if s, ok := styles[style]; ok {
		return s.Caption
	}
	return style + " song with a clear lead vocal, professional studio production, balanced mix"
}
