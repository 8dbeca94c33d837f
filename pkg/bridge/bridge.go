package bridge

// The bridge is the boundary between callers who think in image.Image,
// and the stitching core which thinks in float planes.

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/pkg/errors"

	"github.com/abworrall/panostitch/pkg/pano"
)

// Stitch marshals the images into the core, stitches them, and marshals
// the panorama back out as an *image.RGBA64 whose alpha is the coverage
// mask. It never returns an empty image with a nil error.
func Stitch(ctx context.Context, images []image.Image, cfg pano.Config) (image.Image, error) {
	s, err := NewSessionFromStd(images)
	if err != nil {
		return nil, err
	}
	return s.Stitch(ctx, cfg)
}

// FromStd converts the caller's images; a nil image is an InvalidInput error.
func FromStd(images []image.Image) ([]pano.Image, error) {
	out := make([]pano.Image, len(images))
	for i, img := range images {
		if img == nil {
			return nil, errors.WithStack(&pano.StitchError{Kind: pano.InvalidInput, Reason: "nil image"})
		}
		out[i] = pano.ImageFromStd(img)
	}
	return out, nil
}

// ToImage renders a panorama as 16 bit RGBA; uncovered pixels are transparent.
func ToImage(p pano.Panorama) *image.RGBA64 {
	b := p.Image.Bounds()
	out := image.NewRGBA64(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if !p.Mask.In(x, y) || p.Mask.Get(x, y) < 0.5 {
				out.SetRGBA64(x, y, color.RGBA64{})
				continue
			}
			out.SetRGBA64(x, y, p.Image.RGBA64At(x, y))
		}
	}
	return out
}

// Session holds a set of marshalled images, and remembers the panorama
// built for each distinct configuration, so flipping an option back and
// forth doesn't restitch.
type Session struct {
	images []pano.Image

	mu    sync.Mutex
	cache map[string]pano.Panorama
}

func NewSession(images ...pano.Image) *Session {
	return &Session{
		images: images,
		cache:  map[string]pano.Panorama{},
	}
}

func NewSessionFromStd(images []image.Image) (*Session, error) {
	imgs, err := FromStd(images)
	if err != nil {
		return nil, err
	}
	return NewSession(imgs...), nil
}

func (s *Session) NumImages() int { return len(s.images) }

// Panorama returns the stitched panorama for cfg, from the cache if this
// configuration has been stitched before. Failures are not cached.
func (s *Session) Panorama(ctx context.Context, cfg pano.Config) (pano.Panorama, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cfg.AsYaml()
	if p, exists := s.cache[key]; exists {
		return p, nil
	}

	p, err := pano.Stitch(ctx, s.images, cfg)
	if err != nil {
		return pano.Panorama{}, errors.Wrap(err, "stitch")
	}
	if p.Image.Empty() {
		return pano.Panorama{}, errors.WithStack(&pano.StitchError{Kind: pano.StitchFailed, Reason: "empty panorama"})
	}

	s.cache[key] = p
	return p, nil
}

// Stitch is Panorama, rendered via ToImage.
func (s *Session) Stitch(ctx context.Context, cfg pano.Config) (image.Image, error) {
	p, err := s.Panorama(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return ToImage(p), nil
}
