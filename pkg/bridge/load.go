package bridge

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/abworrall/panostitch/pkg/pano"
)

// Loader accumulates images (and optionally a config) from files and
// directories, in the order they're found.
type Loader struct {
	Images    []pano.Image
	Filenames []string
	Config    pano.Config

	log *logrus.Entry
}

func NewLoader(log *logrus.Entry) *Loader {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loader{Config: pano.NewConfig(), log: log}
}

func (l *Loader) LoadFilesAndDirs(args ...string) error {
	for _, arg := range args {
		item, err := os.Stat(arg)

		switch {

		case err != nil:
			return errors.Wrapf(err, "load %s", arg)

		case item.IsDir():
			// Is a dir, recurse into contents
			contents, err := os.ReadDir(arg)
			if err != nil {
				return errors.Wrapf(err, "readdir %s", arg)
			}
			for _, content := range contents {
				if err := l.LoadFilesAndDirs(filepath.Join(arg, content.Name())); err != nil {
					return errors.Wrapf(err, "load %s", arg)
				}
			}

		default: // is a file, load it
			if err := l.loadFile(arg); err != nil {
				return errors.Wrapf(err, "loadfile %s", arg)
			}
		}
	}

	return nil
}

func (l *Loader) loadFile(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {

	case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
		img, err := loadImage(filename, ext)
		if err != nil {
			return err
		}
		if f35, err := focal35mm(filename); err != nil {
			l.log.Debugf("%s: no focal length: %v", filename, err)
		} else {
			img = img.WithFocalHint(focalHint(f35, img.Dx(), img.Dy()))
			l.log.Debugf("%s: %dmm (35mm equiv), focal hint %.1fpx", filename, f35, img.FocalHint)
		}
		l.Images = append(l.Images, img)
		l.Filenames = append(l.Filenames, filename)

	case ".yaml":
		cfg, err := LoadConfig(filename)
		if err != nil {
			return errors.Wrapf(err, "loading %s as config YAML", filename)
		}
		l.Config = cfg
		l.log.Infof("Loaded base configuration from %s", filename)
	}

	return nil
}

func LoadConfig(filename string) (pano.Config, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return pano.Config{}, errors.Wrapf(err, "config read %s", filename)
	}

	return pano.NewConfigFromYaml(contents)
}

func loadImage(filename, ext string) (pano.Image, error) {
	reader, err := os.Open(filename)
	if err != nil {
		return pano.Image{}, errors.Wrapf(err, "open+r img '%s'", filename)
	}
	defer reader.Close()

	var img image.Image
	if ext == ".tif" || ext == ".tiff" {
		img, err = tiff.Decode(reader)
	} else {
		img, _, err = image.Decode(reader)
	}
	if err != nil {
		return pano.Image{}, errors.Wrapf(err, "decoding '%s'", filename)
	}

	return pano.ImageFromStd(toRGBA64(img)), nil
}

// toRGBA64 redraws anything that isn't already a 16 bit (or gray) image
// at the origin into an RGBA64 at the origin, so paletted, YCbCr and
// sub-images convert cleanly.
func toRGBA64(img image.Image) image.Image {
	b := img.Bounds()
	if b.Min == (image.Point{}) {
		switch img.(type) {
		case *image.RGBA64, *image.Gray, *image.Gray16:
			return img
		}
	}
	out := image.NewRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// focal35mm reads the 35mm-equivalent focal length out of the EXIF.
func focal35mm(filename string) (int, error) {
	reader, err := os.Open(filename)
	if err != nil {
		return 0, errors.Wrapf(err, "open+r exif '%s'", filename)
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	if err != nil {
		return 0, errors.Wrapf(err, "exif parsing '%s'", filename)
	}
	tag, err := ex.Get(exif.FocalLengthIn35mmFilm)
	if err != nil {
		return 0, errors.Wrapf(err, "exif FocalLengthIn35mmFilm '%s'", filename)
	}
	val, err := tag.Int(0)
	if err != nil {
		return 0, errors.Wrapf(err, "exif FocalLengthIn35mmFilm '%s'", filename)
	}
	if val <= 0 {
		return 0, errors.Errorf("exif FocalLengthIn35mmFilm '%s' is %d", filename, val)
	}
	return val, nil
}

// focalHint converts a 35mm-equivalent focal length to pixels; a 35mm
// frame is 36mm along its long side.
func focalHint(f35 int, w, h int) float64 {
	long := w
	if h > long {
		long = h
	}
	return float64(f35) * float64(long) / 36.0
}
