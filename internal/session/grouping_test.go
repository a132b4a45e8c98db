package session

import (
	"errors"
	"path/filepath"
	"testing"

	"automontage/internal/registration"
)

func TestMovieNumber(t *testing.T) {
	n, err := MovieNumber("/d/JC_0123_790nm_OD_confocal_0042_ref_7_lps_8.tif", "confocal")
	if err != nil || n != 42 {
		t.Fatalf("expected 42, got %d (%v)", n, err)
	}
	if n, _ := MovieNumber("x_confocal_0000.tif", "confocal"); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	if _, err := MovieNumber("x_avg_0001.tif", "confocal"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestGroupTriplets(t *testing.T) {
	dir := "/data"
	var paths []string
	for _, movie := range []string{"0003", "0001"} {
		for _, tok := range []string{"confocal", "split_det", "avg"} {
			paths = append(paths, filepath.Join(dir, "s_"+tok+"_"+movie+".tif"))
		}
	}
	triplets, err := GroupTriplets(paths, DefaultNaming())
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if len(triplets) != 2 {
		t.Fatalf("expected 2 triplets, got %d", len(triplets))
	}
	first := triplets[0]
	if first.Movie != 1 {
		t.Fatalf("expected movie 1 first, got %d", first.Movie)
	}
	if got := filepath.Base(first.Paths[registration.ChannelSplit]); got != "s_split_det_0001.tif" {
		t.Fatalf("unexpected split partner %s", got)
	}
}

func TestGroupTripletsMissingPartner(t *testing.T) {
	paths := []string{"/d/s_confocal_0001.tif", "/d/s_avg_0001.tif"}
	if _, err := GroupTriplets(paths, DefaultNaming()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestGroupTripletsUnknownChannel(t *testing.T) {
	if _, err := GroupTriplets([]string{"/d/s_other_0001.tif"}, DefaultNaming()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestChannelOf(t *testing.T) {
	ch, ok := ChannelOf("s_split_det_0002.tif", DefaultNaming())
	if !ok || ch != registration.ChannelSplit {
		t.Fatalf("expected split, got %v %v", ch, ok)
	}
}
