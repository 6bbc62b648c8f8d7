package gateway

import "io"

// progressReader reports consumption of a fixed-size body as percentages.
// Callbacks fire only when the integer percent advances, so a large upload
// produces at most 101 notifications.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	lastNotify int
	onProgress func(percent int)
}

func newProgressReader(r io.Reader, total int64, onProgress func(percent int)) *progressReader {
	return &progressReader{r: r, total: total, lastNotify: -1, onProgress: onProgress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		p.notify()
	}
	return n, err
}

func (p *progressReader) notify() {
	if p.onProgress == nil || p.total <= 0 {
		return
	}
	percent := int(p.read * 100 / p.total)
	if percent > 100 {
		percent = 100
	}
	if percent != p.lastNotify {
		p.lastNotify = percent
		p.onProgress(percent)
	}
}
