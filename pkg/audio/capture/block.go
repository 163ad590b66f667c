package capture

// blockAssembler regroups variable-sized device periods into fixed-size
// blocks. Host APIs treat the requested period size as a hint, so a callback
// may receive more or fewer frames than asked for.
//
// It is used from a single device thread and is not safe for concurrent use.
type blockAssembler struct {
	buf  []float32
	fill int
	emit func([]float32)
}

func newBlockAssembler(size int, emit func([]float32)) *blockAssembler {
	if size <= 0 {
		size = DefaultBlockSize
	}
	return &blockAssembler{buf: make([]float32, size), emit: emit}
}

// write appends samples and emits every completed block. The slice passed to
// emit is reused after emit returns.
func (a *blockAssembler) write(samples []float32) {
	for len(samples) > 0 {
		n := copy(a.buf[a.fill:], samples)
		a.fill += n
		samples = samples[n:]
		if a.fill == len(a.buf) {
			a.emit(a.buf)
			a.fill = 0
		}
	}
}
