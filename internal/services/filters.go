package services

// FilterID names one entry of the visual filter table.
type FilterID string

const (
	FilterNone         FilterID = "none"
	FilterGrayscale    FilterID = "grayscale"
	FilterSepia        FilterID = "sepia"
	FilterVintage      FilterID = "vintage"
	FilterCinematic    FilterID = "cinematic"
	FilterWarm         FilterID = "warm"
	FilterCool         FilterID = "cool"
	FilterHighContrast FilterID = "high_contrast"
	FilterVibrant      FilterID = "vibrant"
	FilterMuted        FilterID = "muted"
	FilterDarkMoody    FilterID = "dark_moody"
	FilterBright       FilterID = "bright"
	FilterVignette     FilterID = "vignette"
	FilterFilmGrain    FilterID = "film_grain"
	FilterBlur         FilterID = "blur"
	FilterSharpen      FilterID = "sharpen"
	FilterNegative     FilterID = "negative"
	FilterNoir         FilterID = "noir"
	FilterCrossProcess FilterID = "cross_process"
	FilterRetro        FilterID = "retro"
	FilterTealOrange   FilterID = "teal_orange"
	FilterDreamy       FilterID = "dreamy"
	FilterFaded        FilterID = "faded"
	FilterVHS          FilterID = "vhs"
	FilterMirror       FilterID = "mirror"
	FilterGoldenHour   FilterID = "golden_hour"
	FilterCyberpunk    FilterID = "cyberpunk"
)

// Transform is an ffmpeg video filter chain appended after scaling.
// The empty Transform leaves frames untouched.
type Transform string

// IsNoop reports whether t changes nothing.
func (t Transform) IsNoop() bool { return t == "" }

// filterOrder keeps AllFilters stable for callers that list them.
var filterOrder = []FilterID{
	FilterNone,
	FilterGrayscale,
	FilterSepia,
	FilterVintage,
	FilterCinematic,
	FilterWarm,
	FilterCool,
	FilterHighContrast,
	FilterVibrant,
	FilterMuted,
	FilterDarkMoody,
	FilterBright,
	FilterVignette,
	FilterFilmGrain,
	FilterBlur,
	FilterSharpen,
	FilterNegative,
	FilterNoir,
	FilterCrossProcess,
	FilterRetro,
	FilterTealOrange,
	FilterDreamy,
	FilterFaded,
	FilterVHS,
	FilterMirror,
	FilterGoldenHour,
	FilterCyberpunk,
}

var filterTable = map[FilterID]Transform{
	FilterNone:         "",
	FilterGrayscale:    "hue=s=0",
	FilterSepia:        "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131",
	FilterVintage:      "curves=preset=vintage,vignette=PI/5",
	FilterCinematic:    "eq=contrast=1.1:saturation=0.9,curves=preset=medium_contrast",
	FilterWarm:         "colorbalance=rs=0.1:gs=0.02:bs=-0.1",
	FilterCool:         "colorbalance=rs=-0.1:gs=0.0:bs=0.12",
	FilterHighContrast: "eq=contrast=1.5",
	FilterVibrant:      "eq=saturation=1.6",
	FilterMuted:        "eq=saturation=0.6",
	FilterDarkMoody:    "eq=brightness=-0.08:contrast=1.2:saturation=0.8",
	FilterBright:       "eq=brightness=0.08",
	FilterVignette:     "vignette=PI/4",
	FilterFilmGrain:    "noise=alls=15:allf=t+u",
	FilterBlur:         "boxblur=2:1",
	FilterSharpen:      "unsharp=5:5:1.0:5:5:0.0",
	FilterNegative:     "negate",
	FilterNoir:         "hue=s=0,eq=contrast=1.4:brightness=-0.05",
	FilterCrossProcess: "curves=preset=cross_process",
	FilterRetro:        "curves=preset=vintage,noise=alls=10:allf=t",
	FilterTealOrange:   "colorbalance=rs=0.12:bs=-0.12:rh=-0.1:bh=0.12",
	FilterDreamy:       "gblur=sigma=1.5,eq=brightness=0.05:saturation=1.2",
	FilterFaded:        "curves=all='0/0.12 1/0.9',eq=saturation=0.75",
	FilterVHS:          "noise=alls=20:allf=t,eq=saturation=1.3,chromashift=cbh=2:crh=-2",
	FilterMirror:       "hflip",
	FilterGoldenHour:   "colorbalance=rs=0.15:gs=0.05:bs=-0.15,eq=brightness=0.04:saturation=1.15",
	FilterCyberpunk:    "colorbalance=rs=0.2:bs=0.25:gs=-0.1,eq=contrast=1.2:saturation=1.4",
}

// LookupFilter resolves a filter id to its transform. Unknown and empty ids
// resolve to the no-op transform.
func LookupFilter(id string) Transform {
	return filterTable[FilterID(id)]
}

// KnownFilter reports whether id is in the table.
func KnownFilter(id string) bool {
	_, ok := filterTable[FilterID(id)]
	return ok
}

// AllFilters lists every filter id, starting with none.
func AllFilters() []FilterID {
	out := make([]FilterID, len(filterOrder))
	copy(out, filterOrder)
	return out
}
