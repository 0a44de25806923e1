package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Level geometry bounds. Height is fixed by the tilemap format.
const (
	LevelHeight   = 16
	MinLevelWidth = 1
	MaxLevelWidth = 250
)

// TileGround is the solid floor block; every level must contain at
// least one.
const TileGround = 'X'

// allowedTiles is the closed tile alphabet. No other character is
// legal in a tilemap.
var allowedTiles = map[rune]bool{
	'-': true, // air
	'M': true, // start
	'F': true, // finish flag
	'y': true, 'Y': true, // spiky, winged spiky
	'E': true, 'g': true, 'G': true, // goombas
	'k': true, 'K': true, // green koopas
	'r': true, 'R': true, // red koopas
	'X': true, // solid floor
	'#': true, // pyramid block
	'S': true, // solid block
	'D': true, // used block
	'%': true, // jump-through platform
	'|': true, // platform background
	'?': true, '@': true, // question blocks (mushroom)
	'Q': true, '!': true, // question blocks (coin)
	'C': true, // coin block
	'U': true, // mushroom block
	'L': true, // 1-up block
	'1': true, '2': true, // invisible blocks
	'o': true, // free-standing coin
	't': true, 'T': true, // pipes
	'<': true, '>': true, '[': true, ']': true, // pipe segments
	'*': true, 'B': true, 'b': true, // bullet bill launcher
}

// IsAllowedTile reports whether c belongs to the closed tile alphabet.
func IsAllowedTile(c rune) bool { return allowedTiles[c] }

// LevelValidationError pinpoints the file and reason a level was
// rejected. The message is safe to surface in error envelopes.
type LevelValidationError struct {
	File   string
	Reason string
}

func (e *LevelValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// ValidateTilemap normalizes and validates raw level text.
//
// Rules, applied both at seed import and at user upload:
//   - line separators normalized to \n, one trailing newline stripped
//   - exactly 16 lines
//   - all lines share one width w, 1 <= w <= 250
//   - every character drawn from the closed tile alphabet
//   - at least one ground tile present
//
// Returns the canonical tilemap and its width.
func ValidateTilemap(raw, filename string) (string, int, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")

	lines := strings.Split(text, "\n")
	if len(lines) != LevelHeight {
		return "", 0, &LevelValidationError{
			File:   filename,
			Reason: fmt.Sprintf("expected %d lines, got %d", LevelHeight, len(lines)),
		}
	}

	width := len(lines[0])
	if width < MinLevelWidth {
		return "", 0, &LevelValidationError{
			File:   filename,
			Reason: fmt.Sprintf("width %d is below minimum %d", width, MinLevelWidth),
		}
	}
	if width > MaxLevelWidth {
		return "", 0, &LevelValidationError{
			File:   filename,
			Reason: fmt.Sprintf("width %d exceeds maximum %d", width, MaxLevelWidth),
		}
	}

	hasGround := false
	for i, line := range lines {
		if len(line) != width {
			return "", 0, &LevelValidationError{
				File:   filename,
				Reason: fmt.Sprintf("line %d: expected %d chars (matching line 1), got %d", i+1, width, len(line)),
			}
		}
		for j, c := range line {
			if !allowedTiles[c] {
				return "", 0, &LevelValidationError{
					File:   filename,
					Reason: fmt.Sprintf("line %d col %d: invalid character %q", i+1, j+1, string(c)),
				}
			}
			if c == TileGround {
				hasGround = true
			}
		}
	}
	if !hasGround {
		return "", 0, &LevelValidationError{
			File:   filename,
			Reason: "no ground tile (X) present",
		}
	}

	return strings.Join(lines, "\n"), width, nil
}

// ContentHash computes the content hash of a canonical tilemap, in the
// wire format "sha256:<hex>".
func ContentHash(tilemap string) string {
	sum := sha256.Sum256([]byte(tilemap))
	return "sha256:" + hex.EncodeToString(sum[:])
}
