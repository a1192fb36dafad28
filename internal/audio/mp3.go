package audio

import (
	"fmt"
	"os"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Duration decodes the file at path far enough to compute its play time.
func MP3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("decoding mp3: %w", err)
	}
	if d.SampleRate() <= 0 || d.Length() <= 0 {
		return 0, fmt.Errorf("mp3 %s has no length", path)
	}

	// go-mp3 always decodes to 16-bit stereo: 4 bytes per sample frame.
	samples := d.Length() / 4
	return time.Duration(samples) * time.Second / time.Duration(d.SampleRate()), nil
}
