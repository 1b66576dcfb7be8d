// Package wavfile reads and writes 16-bit PCM RIFF/WAVE files. It is the
// container used by file writer and file reader nodes.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/racecomm/pkg/audio"
)

// wavFormatPCM is the WAVE format tag for integer PCM.
const wavFormatPCM = 1

// ErrInvalidFile is returned by [NewReader] when the input is not a WAVE file
// this package can decode.
var ErrInvalidFile = errors.New("wavfile: not a valid PCM wave file")

// Writer encodes PCM samples into a WAVE file. The header sizes are patched
// on Close, so the destination must be seekable.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	enc    *wav.Encoder
	format audio.Format
	buf    *goaudio.IntBuffer
	frames int
	closed bool
}

// NewWriter starts a WAVE stream in w with the given format. Only 16-bit
// PCM is supported.
func NewWriter(w io.WriteSeeker, format audio.Format) (*Writer, error) {
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("wavfile: unsupported bit depth %d", format.BitDepth)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("wavfile: invalid format %s", format)
	}
	return &Writer{
		enc:    wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM),
		format: format,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			SourceBitDepth: format.BitDepth,
		},
	}, nil
}

// Write appends interleaved samples to the file.
func (w *Writer) Write(pcm []int16) error {
	if w.closed {
		return errors.New("wavfile: write on closed writer")
	}
	if len(pcm) == 0 {
		return nil
	}
	data := w.buf.Data[:0]
	for _, s := range pcm {
		data = append(data, int(s))
	}
	w.buf.Data = data
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("wavfile: write: %w", err)
	}
	w.frames += len(pcm) / w.format.Channels
	return nil
}

// Duration returns the length of the audio written so far.
func (w *Writer) Duration() time.Duration {
	return audio.FrameDuration(w.frames, w.format)
}

// Close finalises the headers. It does not close the underlying writer.
// Calling Close more than once is safe.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("wavfile: finalise: %w", err)
	}
	return nil
}

// Reader decodes PCM samples from a WAVE file.
type Reader struct {
	dec    *wav.Decoder
	format audio.Format
	buf    *goaudio.IntBuffer
}

// NewReader validates the headers in r and prepares it for sample reads.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}
		return nil, ErrInvalidFile
	}
	if dec.WavAudioFormat != wavFormatPCM || dec.BitDepth != 16 {
		return nil, fmt.Errorf("%w: format tag %d, %d bits", ErrInvalidFile, dec.WavAudioFormat, dec.BitDepth)
	}
	format := audio.Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	return &Reader{
		dec:    dec,
		format: format,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
		},
	}, nil
}

// Format returns the stream format declared in the file header.
func (r *Reader) Format() audio.Format {
	return r.format
}

// Read fills dst with interleaved samples and returns how many were read.
// At the end of the stream it returns 0, [io.EOF].
func (r *Reader) Read(dst []int16) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if cap(r.buf.Data) < len(dst) {
		r.buf.Data = make([]int, len(dst))
	}
	r.buf.Data = r.buf.Data[:len(dst)]
	n, err := r.dec.PCMBuffer(r.buf)
	for i := range n {
		dst[i] = int16(r.buf.Data[i])
	}
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return 0, err
	}
	return n, nil
}
