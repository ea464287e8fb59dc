package table

import (
	"errors"
	"strings"
)

// ErrWhisperTargetNotFound indicates no participant matched a whisper target.
var ErrWhisperTargetNotFound = errors.New("whisper target not found")

// grailKeeperAliases always address the king, whatever their character is
// called.
var grailKeeperAliases = map[string]struct{}{
	"dm":      {},
	"monarch": {},
}

// ResolveWhisperTarget maps a typed whisper target to a participant.
//
// Matching is case-insensitive and resolves in order: king aliases, exact
// character name, exact username. The first match wins; a character named
// like another player's username shadows that username.
func ResolveWhisperTarget(participants []Participant, target string) (Participant, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return Participant{}, ErrWhisperTargetNotFound
	}

	if _, ok := grailKeeperAliases[target]; ok {
		for _, p := range participants {
			if p.Role == RoleKing {
				return p, nil
			}
		}
		return Participant{}, ErrWhisperTargetNotFound
	}

	for _, p := range participants {
		if name := strings.TrimSpace(p.CharacterName); name != "" && strings.ToLower(name) == target {
			return p, nil
		}
	}
	for _, p := range participants {
		if strings.ToLower(strings.TrimSpace(p.Username)) == target {
			return p, nil
		}
	}
	return Participant{}, ErrWhisperTargetNotFound
}
