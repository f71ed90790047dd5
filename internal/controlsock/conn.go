package controlsock

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Conn wraps a net.Conn to one registered child, implementing
// resource.Conn. Framing matches spec.md §6's
// css_send_heartbeat_request/data pair: a 32-bit network-order command
// code, optionally followed by a 32-bit length-prefixed data block.
type Conn struct {
	nc net.Conn
}

// NewConn wraps an accepted connection.
func NewConn(nc net.Conn) *Conn { return &Conn{nc: nc} }

func (c *Conn) writeCommand(cmd uint32) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], cmd)
	_, err := c.nc.Write(hdr[:])
	return err
}

func (c *Conn) writeData(data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := c.nc.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.nc.Write(data)
	return err
}

// SendChangeMode implements resource.Conn.
func (c *Conn) SendChangeMode(active bool) error {
	if err := c.writeCommand(CmdChangeHAMode); err != nil {
		return fmt.Errorf("controlsock: send change-mode command: %w", err)
	}
	mode := ModeStandby
	if active {
		mode = ModeActive
	}
	var modeBuf [4]byte
	binary.BigEndian.PutUint32(modeBuf[:], uint32(mode))
	return c.writeData(modeBuf[:])
}

// SendGetEOF implements resource.Conn.
func (c *Conn) SendGetEOF() error {
	return c.writeCommand(CmdGetEOF)
}

// SendMasterHostname implements resource.Conn.
func (c *Conn) SendMasterHostname(hostname string) error {
	if err := c.writeCommand(CmdSendMasterHostname); err != nil {
		return err
	}
	return c.writeData([]byte(hostname))
}

// RequestShutdown implements resource.Conn.
func (c *Conn) RequestShutdown() error {
	return c.writeCommand(CmdShutdown)
}

// Close implements resource.Conn.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// readCommand reads the next 32-bit command code from the connection.
func readCommand(nc net.Conn) (uint32, error) {
	var hdr [4]byte
	if _, err := fillBuf(nc, hdr[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(hdr[:]), nil
}

func readData(nc net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := fillBuf(nc, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := fillBuf(nc, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func fillBuf(nc net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := nc.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
