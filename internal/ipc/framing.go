package ipc

import "bytes"

// maxFrameSize bounds one message so a stuck peer cannot balloon the
// per-connection buffer.
const maxFrameSize = 4 * 1024 * 1024

// Framer accumulates raw socket bytes and yields complete
// newline-terminated frames. Residue after the last newline is retained
// across Feed calls, so chunk boundaries are irrelevant to the caller.
type Framer struct {
	buf bytes.Buffer
}

// Feed appends data and returns every complete frame it closed, without
// the trailing newline. Empty frames (bare newlines) are dropped.
func (f *Framer) Feed(data []byte) ([][]byte, error) {
	f.buf.Write(data)
	if f.buf.Len() > maxFrameSize {
		return nil, errFrameTooLarge
	}

	var frames [][]byte
	for {
		raw := f.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			return frames, nil
		}
		frame := make([]byte, idx)
		copy(frame, raw[:idx])
		f.buf.Next(idx + 1)
		frame = bytes.TrimSpace(frame)
		if len(frame) > 0 {
			frames = append(frames, frame)
		}
	}
}

// Pending reports how many residue bytes await their newline.
func (f *Framer) Pending() int {
	return f.buf.Len()
}
