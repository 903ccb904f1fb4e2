package pktransport

import "io"

// pipeRWC glues a pair of io.Pipe halves (one read, one write) into a
// single io.ReadWriteCloser so each side of a loopback can be wrapped
// in a FramedPort like any other byte-stream medium.
type pipeRWC struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeRWC) Close() error {
	rErr := p.r.Close()
	wErr := p.w.Close()
	if rErr != nil {
		return rErr
	}
	return wErr
}

// Loopback returns two connected Ports, host and device, such that
// anything sent on one arrives on the other. It stands in for the
// physical USB-HID link when exercising the full Host/Device exchange
// in a single process: local bench runs, integration tests, and
// cmd/pkbench's default no-hardware mode all drive the engine through
// this pair instead of real transport.
func Loopback() (host Port, device Port) {
	hostToDevice := newPipe()
	deviceToHost := newPipe()

	host = NewFramedPort(&pipeRWC{r: deviceToHost.r, w: hostToDevice.w})
	device = NewFramedPort(&pipeRWC{r: hostToDevice.r, w: deviceToHost.w})
	return host, device
}

type pipeHalves struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipe() pipeHalves {
	r, w := io.Pipe()
	return pipeHalves{r: r, w: w}
}
