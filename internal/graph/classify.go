package graph

import "strings"

// Recognized server property keys used to derive classification and layout
// key. These mirror the keys the audio server actually exposes (application
// name, node purpose/role, media class); unrecognized nodes fall back to the
// raw node name.
const (
	propAppName     = "application.name"
	propNodePurpose = "node.purpose"
	propMediaClass  = "media.class"
	propMediaRole   = "media.role"
	propPluginURI   = "plugin.uri"
)

// deriveClassification applies a fixed decision order: explicit plugin-
// filter tag > duplex (has both audio in and out at app role) > application
// stream (session manager role) > hardware/virtual sink/source.
func deriveClassification(props map[string]string, hasAudioIn, hasAudioOut bool) Classification {
	if _, ok := props[propPluginURI]; ok {
		return ClassPluginFilter
	}

	mediaClass := props[propMediaClass]
	lowerClass := strings.ToLower(mediaClass)

	isAppRole := props[propMediaRole] == "Movie" || props[propMediaRole] == "Music" ||
		strings.Contains(lowerClass, "stream")

	if isAppRole && hasAudioIn && hasAudioOut {
		return ClassDuplex
	}
	if isAppRole {
		switch {
		case strings.Contains(lowerClass, "sink") || strings.Contains(lowerClass, "playback") || strings.Contains(lowerClass, "output"):
			return ClassAppOutput
		case strings.Contains(lowerClass, "source") || strings.Contains(lowerClass, "capture") || strings.Contains(lowerClass, "input"):
			return ClassAppInput
		}
	}

	switch {
	case strings.Contains(lowerClass, "sink"):
		if strings.Contains(lowerClass, "virtual") {
			return ClassVirtualSink
		}
		return ClassHardwareSink
	case strings.Contains(lowerClass, "source"):
		if strings.Contains(lowerClass, "virtual") {
			return ClassVirtualSource
		}
		return ClassHardwareSource
	}

	// No recognizable media class: treat as a virtual sink/source pair based
	// on whichever direction of ports it actually has, defaulting to sink.
	if hasAudioOut && !hasAudioIn {
		return ClassVirtualSource
	}
	return ClassVirtualSink
}

// computeLayoutKey derives the stable, restart-surviving key for a node:
// application name, node purpose, and media class, whitespace-normalized and
// lowercased, joined with "::".
func computeLayoutKey(props map[string]string, fallbackName string) string {
	appName := props[propAppName]
	purpose := props[propNodePurpose]
	mediaClass := props[propMediaClass]

	if appName == "" {
		appName = fallbackName
	}

	parts := []string{normalizeKeyPart(appName), normalizeKeyPart(purpose), normalizeKeyPart(mediaClass)}
	return strings.Join(parts, "::")
}

func normalizeKeyPart(s string) string {
	fields := strings.Fields(s)
	return strings.ToLower(strings.Join(fields, " "))
}
