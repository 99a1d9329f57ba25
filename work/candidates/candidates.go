package candidates

import (
	"kptv-player/work/relay"
	"kptv-player/work/xtream"
)

// TransportFormat classifies how a candidate's bytes must be decoded.
type TransportFormat int

const (
	FormatUnknown      TransportFormat = iota // Container sniffed by the progressive decoder
	FormatRawTransport                        // MPEG transport-stream byte feed, demuxed client-side
	FormatSegmented                           // HTTP-segmented adaptive manifest (HLS)
	FormatProgressive                         // Single progressive file (mp4, mkv, ...)
)

// String returns the lowercase format name for logs and metrics labels.
func (f TransportFormat) String() string {
	switch f {
	case FormatRawTransport:
		return "raw-transport"
	case FormatSegmented:
		return "segmented-manifest"
	case FormatProgressive:
		return "progressive-file"
	default:
		return "unknown"
	}
}

// NetworkPath says whether a candidate is fetched directly or through a relay.
type NetworkPath int

const (
	PathDirect NetworkPath = iota
	PathRelayed
)

func (p NetworkPath) String() string {
	if p == PathRelayed {
		return "relayed"
	}
	return "direct"
}

// Kind is the content kind a playback request targets. Movies and series
// episodes share on-demand semantics but live under different URL segments.
type Kind int

const (
	KindLive Kind = iota
	KindMovie
	KindSeries
)

// IsLive reports whether this kind is a continuous live feed (as opposed
// to a finite on-demand asset).
func (k Kind) IsLive() bool {
	return k == KindLive
}

// Segment returns the Xtream URL path segment for this kind.
func (k Kind) Segment() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindSeries:
		return "series"
	default:
		return "live"
	}
}

func (k Kind) String() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindSeries:
		return "series"
	default:
		return "live"
	}
}

// ParseKind maps a request string to a content kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "live":
		return KindLive, true
	case "movie", "vod":
		return KindMovie, true
	case "series", "episode":
		return KindSeries, true
	}
	return KindLive, false
}

// Candidate is one concrete playback attempt option: a URL, the transport
// format it is expected to carry and the network path it travels.
// Immutable value once generated.
type Candidate struct {
	URL    string
	Format TransportFormat
	Path   NetworkPath
	Label  string
}

// Generate produces the ranked, deduplicated candidate list for one
// playback request.
//
// Live ranking is format-aware: raw transport through a buffering demuxer
// tolerates connection hiccups with silent reconnection, so it outranks
// segment-based delivery, which stalls harder when a relay is unstable:
//
//	ts direct, m3u8 direct, raw (no extension) direct, ts relayed, m3u8 relayed
//
// On-demand ranking tries the declared container extension, then .mkv,
// then no extension — each through the primary relay, because progressive
// file delivery from these panels is rarely reachable directly.
//
// Candidates are deduplicated by final URL; later duplicates are dropped
// and first-occurrence order is preserved.
func Generate(kind Kind, creds xtream.Credentials, streamID string, declaredExt string, relays *relay.Table) []Candidate {
	var out []Candidate

	if kind.IsLive() {
		tsURL := xtream.BuildStreamURL(creds, kind.Segment(), streamID, "ts")
		hlsURL := xtream.BuildStreamURL(creds, kind.Segment(), streamID, "m3u8")
		rawURL := xtream.BuildStreamURL(creds, kind.Segment(), streamID, "")
		primary := relays.First()

		out = append(out,
			Candidate{URL: tsURL, Format: FormatRawTransport, Path: PathDirect, Label: "TS direct"},
			Candidate{URL: hlsURL, Format: FormatSegmented, Path: PathDirect, Label: "HLS direct"},
			Candidate{URL: rawURL, Format: FormatRawTransport, Path: PathDirect, Label: "raw direct"},
			Candidate{URL: relays.WrapURL(primary, tsURL), Format: FormatRawTransport, Path: PathRelayed, Label: "TS relayed"},
			Candidate{URL: relays.WrapURL(primary, hlsURL), Format: FormatSegmented, Path: PathRelayed, Label: "HLS relayed"},
		)
		return dedupe(out)
	}

	// On-demand: declared extension first, then .mkv, then bare.
	// Panels that omit the container extension almost always serve mp4.
	if declaredExt == "" {
		declaredExt = "mp4"
	}
	exts := []string{declaredExt, "mkv", ""}
	primary := relays.First()

	for _, ext := range exts {
		target := xtream.BuildStreamURL(creds, kind.Segment(), streamID, ext)
		out = append(out, Candidate{
			URL:    relays.WrapURL(primary, target),
			Format: formatForExt(ext),
			Path:   PathRelayed,
			Label:  vodLabel(ext),
		})
	}
	return dedupe(out)
}

// formatForExt maps a container extension to the transport format the
// matching decoder adapter expects.
func formatForExt(ext string) TransportFormat {
	switch ext {
	case "":
		return FormatUnknown
	case "ts":
		return FormatRawTransport
	case "m3u8":
		return FormatSegmented
	default:
		return FormatProgressive
	}
}

func vodLabel(ext string) string {
	if ext == "" {
		return "relayed raw"
	}
	return "relayed ." + ext
}

// dedupe drops candidates whose final URL was already seen, preserving the
// order of first occurrence. Two generation rules colliding on the same
// URL (e.g. declared extension already "mkv") must never yield it twice.
func dedupe(in []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
	}
	return out
}
