package fetcher

import (
	"errors"
	"io"

	"audiofetch/pkg/calc"
)

// unknownStep is how many bytes pass between events when the size is unknown.
const unknownStep = 1 << 20

// progressReader counts bytes and reports a fraction whenever the integer percent changes.
type progressReader struct {
	r        io.Reader
	total    int64
	received int64

	lastPercent int
	lastStep    int64

	onBytes func(n int)
	emit    func(fraction float64, known bool)

	// err is the last non-EOF error returned by r.
	err error
}

func newProgressReader(r io.Reader, total int64, onBytes func(int), emit func(float64, bool)) *progressReader {
	return &progressReader{r: r, total: total, onBytes: onBytes, emit: emit}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.received += int64(n)
		p.onBytes(n)
		p.update()
	}

	if err != nil && !errors.Is(err, io.EOF) {
		p.err = err
	}

	return n, err
}

func (p *progressReader) update() {
	fraction, known := calc.Fraction(p.received, p.total)
	if !known {
		if step := p.received / unknownStep; step > p.lastStep {
			p.lastStep = step
			p.emit(0, false)
		}

		return
	}

	if percent := calc.Percent(fraction); percent != p.lastPercent {
		p.lastPercent = percent
		p.emit(fraction, true)
	}
}
