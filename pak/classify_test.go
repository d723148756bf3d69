package pak

import (
	"math/rand"
	"testing"
)

func TestClassify(t *testing.T) {
	names := []string{
		"People/Alice.duf",
		"People/Alice.png",
		"People/Alice_tip.png",
		"Props/chair.DSF",
		"props/chair.png",
		"Textures/wood.jpg",
		"Textures/wood_D.jpg",
		"Textures/wood_N.jpg",
		"Runtime/banner.png",
		"Runtime/banner.jpeg",
	}
	s := NewSiblings(names)

	var table = []struct {
		path string
		want Kind
	}{
		// paired with a .duf scene file
		{"People/Alice.png", Preview},
		// suffix variant has its own stem, no companion
		{"People/Alice_tip.png", Orphan},
		// pairing is case-insensitive across directories and extensions
		{"props/chair.png", Preview},
		// texture with only image siblings
		{"Textures/wood.jpg", Orphan},
		{"Textures/wood_D.jpg", Orphan},
		// an image sibling of the same stem is not a companion
		{"Runtime/banner.png", Orphan},
	}
	for _, tc := range table {
		if got := s.Classify(tc.path); got != tc.want {
			t.Errorf("Classify(%s) = %v, expected %v", tc.path, got, tc.want)
		}
	}
}

func TestClassifyOrderIndependent(t *testing.T) {
	names := []string{
		"a/one.png", "a/one.duf", "a/two.png", "a/two_D.png",
		"b/three.jpeg", "b/three.dsf", "b/four.jpg",
	}
	want := map[string]Kind{
		"a/one.png":    Preview,
		"a/two.png":    Orphan,
		"a/two_D.png":  Orphan,
		"b/three.jpeg": Preview,
		"b/four.jpg":   Orphan,
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]string(nil), names...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		s := NewSiblings(shuffled)
		for p, kind := range want {
			if got := s.Classify(p); got != kind {
				t.Fatalf("trial %d: Classify(%s) = %v, expected %v", trial, p, got, kind)
			}
		}
	}
}

func TestIsImagePath(t *testing.T) {
	var table = []struct {
		path string
		want bool
	}{
		{"a/b.png", true},
		{"a/b.PNG", true},
		{"a/b.jpg", true},
		{"a/b.Jpeg", true},
		{"a/b.gif", false},
		{"a/b.duf", false},
		{"a/b", false},
	}
	for _, tc := range table {
		if got := IsImagePath(tc.path); got != tc.want {
			t.Errorf("IsImagePath(%s) = %v, expected %v", tc.path, got, tc.want)
		}
	}
}
