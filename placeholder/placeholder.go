// Package placeholder rewrites in-document image markers to final stored
// asset references. Extraction emits markers of the form
// [IMAGE_<index>:<caption>] with 1-based sequential indices; after
// acquisition this package collapses scraping artifacts, remaps indices
// whose assets deduplicated to the same stored file, and substitutes the
// final markdown reference for each surviving marker.
package placeholder

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var markerPattern = regexp.MustCompile(`\[IMAGE_(\d+):([^\]]*)\]`)

// ErrMarkersAltered is returned by Verify when a rewriting collaborator
// did not preserve the marker sequence verbatim.
var ErrMarkersAltered = errors.New("placeholder: markers altered by rewriting")

// Asset is the resolver's view of one acquired (or failed) document asset.
type Asset struct {
	Index          int
	RemoteURL      string
	Caption        string
	StoredFilename string
	Acquired       bool
}

// Count returns the number of markers present in a body.
func Count(body string) int {
	return len(markerPattern.FindAllString(body, -1))
}

// Snapshot returns the ordered marker sequence of a body, used to check
// that external rewriting preserved every marker verbatim.
func Snapshot(body string) []string {
	return markerPattern.FindAllString(body, -1)
}

// Verify compares the marker sequences of a body before and after
// external rewriting. Collaborators are required to pass markers through
// untouched; paraphrased, reordered, or dropped markers would silently
// detach images from the document.
func Verify(original, rewritten string) error {
	before := Snapshot(original)
	after := Snapshot(rewritten)
	if len(before) != len(after) {
		return fmt.Errorf("%w: %d markers before, %d after", ErrMarkersAltered, len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			return fmt.Errorf("%w: marker %d changed from %q to %q", ErrMarkersAltered, i+1, before[i], after[i])
		}
	}
	return nil
}

// Resolve rewrites every marker in body to its final form and returns the
// rewritten body plus the indices whose assets failed acquisition.
//
// Immediately-adjacent repeated markers for the same remote URL and
// caption collapse to one (a scraping artifact). Assets that deduplicated
// to the same stored file collapse to the first index that referenced it.
// Acquired markers become markdown image references; failed ones become
// explicit [UNRESOLVED_IMAGE_<n>:<caption>] markers so missing media is
// detectable downstream instead of silently deleted.
func Resolve(body string, assets []Asset) (string, []int) {
	byIndex := make(map[int]Asset, len(assets))
	for _, a := range assets {
		byIndex[a.Index] = a
	}

	body = collapseAdjacent(body, byIndex)
	remap := buildRemap(assets)

	var unresolved []int
	seen := make(map[int]bool)
	out := markerPattern.ReplaceAllStringFunc(body, func(marker string) string {
		index, caption := parseMarker(marker)
		if first, ok := remap[index]; ok {
			index = first
		}
		asset, ok := byIndex[index]
		if !ok || !asset.Acquired {
			if !seen[index] {
				seen[index] = true
				unresolved = append(unresolved, index)
			}
			return fmt.Sprintf("[UNRESOLVED_IMAGE_%d:%s]", index, caption)
		}
		return fmt.Sprintf("![%s](../images/%s)", caption, asset.StoredFilename)
	})
	return out, unresolved
}

// collapseAdjacent drops a marker that directly follows (across only
// whitespace) a kept marker with the same caption and remote URL.
func collapseAdjacent(body string, byIndex map[int]Asset) string {
	matches := markerPattern.FindAllStringIndex(body, -1)
	if len(matches) < 2 {
		return body
	}

	var b strings.Builder
	prevEnd := 0
	var kept []int
	for _, m := range matches {
		if kept != nil && strings.TrimSpace(body[kept[1]:m[0]]) == "" &&
			sameAsset(body[kept[0]:kept[1]], body[m[0]:m[1]], byIndex) {
			prevEnd = m[1]
			continue
		}
		b.WriteString(body[prevEnd:m[1]])
		prevEnd = m[1]
		kept = m
	}
	b.WriteString(body[prevEnd:])
	return b.String()
}

func sameAsset(markerA, markerB string, byIndex map[int]Asset) bool {
	indexA, captionA := parseMarker(markerA)
	indexB, captionB := parseMarker(markerB)
	if captionA != captionB {
		return false
	}
	a, okA := byIndex[indexA]
	b, okB := byIndex[indexB]
	return okA && okB && a.RemoteURL != "" && a.RemoteURL == b.RemoteURL
}

// buildRemap maps each index to the first index bound to the same stored
// filename, in ascending index order.
func buildRemap(assets []Asset) map[int]int {
	firstByFile := make(map[string]int)
	remap := make(map[int]int)
	for _, a := range sortedByIndex(assets) {
		if !a.Acquired || a.StoredFilename == "" {
			continue
		}
		if first, ok := firstByFile[a.StoredFilename]; ok {
			remap[a.Index] = first
			continue
		}
		firstByFile[a.StoredFilename] = a.Index
	}
	return remap
}

func sortedByIndex(assets []Asset) []Asset {
	out := make([]Asset, len(assets))
	copy(out, assets)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func parseMarker(marker string) (int, string) {
	sub := markerPattern.FindStringSubmatch(marker)
	if sub == nil {
		return 0, ""
	}
	index, err := strconv.Atoi(sub[1])
	if err != nil {
		return 0, sub[2]
	}
	return index, sub[2]
}
