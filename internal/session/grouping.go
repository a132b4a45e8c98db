package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"automontage/internal/registration"
)

// Triplet is the set of channel files recorded for one movie.
type Triplet struct {
	Movie int
	Paths [registration.NumChannels]string
}

// ChannelOf returns the first channel whose token appears in name.
func ChannelOf(name string, naming Naming) (registration.Channel, bool) {
	for _, ch := range registration.Channels() {
		if strings.Contains(name, naming.Token(ch)) {
			return ch, true
		}
	}
	return 0, false
}

// ListTIFs returns the sorted .tif files directly inside dir.
func ListTIFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".tif") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// GroupTriplets pairs every file with its partner channels by substituting
// naming tokens in the file name. A file whose partners are missing, or that
// carries no channel token, is malformed input.
func GroupTriplets(paths []string, naming Naming) ([]Triplet, error) {
	remaining := make(map[string]bool, len(paths))
	for _, p := range paths {
		remaining[p] = true
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	var out []Triplet
	for _, p := range sorted {
		if !remaining[p] {
			continue
		}
		dir, base := filepath.Split(p)
		ch, ok := ChannelOf(base, naming)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no channel token", ErrMalformed, base)
		}
		var t Triplet
		for _, other := range registration.Channels() {
			partner := p
			if other != ch {
				partner = dir + strings.ReplaceAll(base, naming.Token(ch), naming.Token(other))
			}
			if !remaining[partner] {
				return nil, fmt.Errorf("%w: %s has no %s partner (expected %s)", ErrMalformed, base, other, filepath.Base(partner))
			}
			t.Paths[other] = partner
			delete(remaining, partner)
		}
		movie, err := MovieNumber(t.Paths[registration.ChannelConfocal], naming.Confocal)
		if err != nil {
			return nil, err
		}
		t.Movie = movie
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Movie < out[j].Movie })
	return out, nil
}

// MovieNumber reads the four digits that follow "<token>_" in a file name.
func MovieNumber(path, token string) (int, error) {
	base := filepath.Base(path)
	marker := token + "_"
	i := strings.Index(base, marker)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s does not contain %q", ErrMalformed, base, marker)
	}
	start := i + len(marker)
	if start+4 > len(base) {
		return 0, fmt.Errorf("%w: %s has no movie number", ErrMalformed, base)
	}
	n, err := strconv.Atoi(base[start : start+4])
	if err != nil {
		return 0, fmt.Errorf("%w: %s has no movie number: %v", ErrMalformed, base, err)
	}
	return n, nil
}
