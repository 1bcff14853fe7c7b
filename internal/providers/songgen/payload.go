package songgen

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
)

// The provider's payloads have drifted across API versions: the original flat
// shape, a v2 envelope under "data", and the clip-array shape used by newer
// webhooks. Rather than one fixed schema struct, extraction probes a
// prioritized list of locations on a generic map and takes the first hit.

// idPaths lists known correlation ID locations, most recent shape first.
var idPaths = []string{
	"task_id",
	"taskId",
	"id",
	"job_id",
	"data.task_id",
	"data.taskId",
	"data.id",
}

var statusPaths = []string{
	"status",
	"state",
	"data.status",
	"data.state",
	"type",
}

var lyricsPaths = []string{
	"lyrics",
	"lyric",
	"text",
	"data.lyrics",
	"data.lyric",
	"data.text",
}

var coverPaths = []string{
	"cover_url",
	"image_url",
	"data.cover_url",
	"data.image_url",
}

// statusStates maps every provider status vocabulary seen so far onto the
// internal states.
var statusStates = map[string]domain.JobState{
	"queued":     domain.StatePending,
	"pending":    domain.StatePending,
	"submitted":  domain.StatePending,
	"running":    domain.StatePending,
	"processing": domain.StatePending,

	"text":         domain.StateTextReady,
	"text_success": domain.StateTextReady,
	"lyrics_ready": domain.StateTextReady,

	"first":         domain.StateDraftReady,
	"first_success": domain.StateDraftReady,
	"draft":         domain.StateDraftReady,

	"complete":    domain.StateSucceeded,
	"completed":   domain.StateSucceeded,
	"success":     domain.StateSucceeded,
	"succeeded":   domain.StateSucceeded,
	"all_success": domain.StateSucceeded,

	"error":   domain.StateFailed,
	"failed":  domain.StateFailed,
	"failure": domain.StateFailed,

	"audio_error":  domain.StateAudioFailed,
	"audio_failed": domain.StateAudioFailed,
}

// parsePayload extracts the correlation ID and a status observation from a
// provider-shaped JSON document. Unknown and extra fields are ignored. Only a
// payload with no correlation ID in any known location is rejected.
func parsePayload(raw []byte) (string, domain.Observation, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", domain.Observation{}, fmt.Errorf("decode: %v: %w", err, domain.ErrUnrecognizedPayload)
	}

	providerJobID := firstString(doc, idPaths)
	if providerJobID == "" {
		return "", domain.Observation{}, fmt.Errorf("no correlation id: %w", domain.ErrUnrecognizedPayload)
	}

	obs := domain.Observation{
		Artifacts: domain.Artifacts{
			Lyrics:   firstString(doc, lyricsPaths),
			CoverURL: firstString(doc, coverPaths),
		},
	}
	obs.Artifacts.AudioURL, obs.Artifacts.AltAudioURL = audioURLs(doc)

	rawStatus := strings.ToLower(firstString(doc, statusPaths))
	if state, ok := statusStates[rawStatus]; ok {
		obs.State = state
	} else {
		obs.State = inferState(obs.Artifacts)
	}
	if obs.State == domain.StateFailed || obs.State == domain.StateAudioFailed {
		obs.Failure = failureMessage(doc, rawStatus)
	}
	return providerJobID, obs, nil
}

// audioURLs resolves the primary and alternate takes. Newer payloads carry a
// clip array; older ones use flat first/second URL fields.
func audioURLs(doc map[string]any) (string, string) {
	primary := firstString(doc, []string{"audio_url", "music_url", "data.audio_url", "data.music_url"})
	alt := firstString(doc, []string{"second_music_url", "audio_url_2", "data.second_music_url", "data.audio_url_2"})

	clips := clipList(doc)
	for i, clip := range clips {
		url := firstString(clip, []string{"audio_url", "music_url", "url"})
		if url == "" {
			continue
		}
		switch {
		case i == 0 && primary == "":
			primary = url
		case alt == "":
			alt = url
		}
	}
	return primary, alt
}

func clipList(doc map[string]any) []map[string]any {
	for _, path := range []string{"clips", "data.clips", "data.items"} {
		node := lookup(doc, path)
		arr, ok := node.([]any)
		if !ok {
			continue
		}
		var clips []map[string]any
		for _, el := range arr {
			if m, ok := el.(map[string]any); ok {
				clips = append(clips, m)
			}
		}
		if len(clips) > 0 {
			return clips
		}
	}
	return nil
}

// inferState covers payloads whose status field is missing or from a
// vocabulary we have never seen: the richest artifact present decides.
func inferState(a domain.Artifacts) domain.JobState {
	switch {
	case a.AudioURL != "" && a.CoverURL != "":
		return domain.StateSucceeded
	case a.AudioURL != "":
		return domain.StateDraftReady
	case a.Lyrics != "":
		return domain.StateTextReady
	default:
		return domain.StatePending
	}
}

func failureMessage(doc map[string]any, fallback string) string {
	msg := firstString(doc, []string{"message", "error", "error_message", "data.message", "data.error"})
	if msg != "" {
		return msg
	}
	return fallback
}

func firstString(doc map[string]any, paths []string) string {
	for _, path := range paths {
		if s, ok := lookup(doc, path).(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// lookup walks a dot-separated path through nested JSON objects.
func lookup(doc map[string]any, path string) any {
	node := any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[part]
	}
	return node
}
