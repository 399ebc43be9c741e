// Package debug holds optional diagnostic tooling not part of the
// receiver's core contract: raw datagram capture of the SRTLA ingress
// and SRT egress sockets for offline inspection.
package debug

import (
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Capture writes raw datagrams to a single PCAP file. Callers wanting
// ingress and egress traffic split into separate files run two
// Capture instances rather than tagging frames in-band.
type Capture struct {
	file   *os.File
	writer *pcapgo.Writer
}

// NewCapture creates (or truncates) path and writes the PCAP file
// header.
func NewCapture(path string) (*Capture, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeNull); err != nil {
		f.Close()
		return nil, err
	}
	log.Printf("debug: packet capture writing to %s", path)
	return &Capture{file: f, writer: w}, nil
}

// Write appends one raw datagram to the capture.
func (c *Capture) Write(datagram []byte) {
	if c == nil || c.writer == nil {
		return
	}
	err := c.writer.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(datagram),
		Length:        len(datagram),
	}, datagram)
	if err != nil {
		log.Printf("debug: pcap write failed: %v", err)
	}
}

// Close flushes and closes the capture file.
func (c *Capture) Close() {
	if c == nil || c.file == nil {
		return
	}
	c.file.Close()
}
