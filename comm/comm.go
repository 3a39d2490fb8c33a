/*Package comm provides an embeddable type for line-oriented communication with
motion control boards.

Most usages of this package will boil down to:
	1.  embed *RemoteDevice in a type that represents your hardware.
	2.  pass the terminators of the board to NewRemoteDevice, or nil to use
		the default newline terminators
	3.  Write any methods you see fit on top of SendRecv

A minimal example for a board which answers "M115" with its firmware string:

	type MyBoard struct {
		*comm.RemoteDevice
	}

	func (b *MyBoard) Firmware() (string, error) {
		err := b.Open()
		if err != nil {
			return "", err
		}
		defer b.Close()
		resp, err := b.SendRecv([]byte("M115"))
		return string(resp), err
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// DefaultTimeout is the connection, read, and write timeout used when a
// RemoteDevice has none configured
const DefaultTimeout = 3 * time.Second

var (
	// ErrNoSerialConf is generated when a serial device has no serial.Config
	ErrNoSerialConf = errors.New("remote device has IsSerial=true but no serial config")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the transmit and receipt termination bytes
type Terminators struct {
	Rx byte
	Tx byte
}

/*RemoteDevice has an address and can Open, Send, Recv, and Close.

If IsSerial is true, a serial.Config must be provided at construction.
RemoteDevice is not safe for concurrent use; callers serialize access.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser

	// Timeout bounds the connection and each exchange, DefaultTimeout if zero
	Timeout time.Duration

	serCfg  *serial.Config
	terms   Terminators
	rdr     *bufio.Reader
	rdrConn io.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance.  If terms is nil,
// newline terminators are used
func NewRemoteDevice(addr string, serial bool, terms *Terminators, serCfg *serial.Config) RemoteDevice {
	t := Terminators{Rx: '\n', Tx: '\n'}
	if terms != nil {
		t = *terms
	}
	return RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		Timeout:  DefaultTimeout,
		serCfg:   serCfg,
		terms:    t}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout <= 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// Open the connection, setting the Conn variable.  Connection refusal is
// returned immediately, other failures are retried with an exponential
// backoff for a few seconds
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	wasTimeout := false
	var lastErr error
	op := func() error {
		err := rd.open()
		if err != nil {
			lastErr = err
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") || err == ErrNoSerialConf {
				wasTimeout = false
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s: %v", rd.Addr, lastErr)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		if rd.serCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.serCfg)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rdr = nil
	rd.rdrConn = nil
	return err
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, rd.terms.Tx)
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if rd.rdr == nil || rd.rdrConn != rd.Conn {
		rd.rdr = bufio.NewReader(rd.Conn)
		rd.rdrConn = rd.Conn
	}
	term := rd.terms.Rx
	buf, err := rd.rdr.ReadBytes(term)
	if err != nil {
		return []byte{}, err
	}
	if idx := bytes.IndexByte(buf, term); idx >= 0 {
		// boards which speak \r\n leave a trailing \r behind
		return bytes.TrimRight(buf[:idx], "\r"), nil
	}
	return buf, ErrTerminatorNotFound
}

// deadliner is satisfied by net.Conn
type deadliner interface {
	SetDeadline(time.Time) error
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped.
// Connections with deadlines get a fresh one for each exchange
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	if rd.Conn == nil {
		return []byte{}, ErrNotConnected
	}
	if dl, ok := rd.Conn.(deadliner); ok {
		dl.SetDeadline(time.Now().Add(rd.timeout()))
	}
	err := rd.Send(b)
	if err != nil {
		return []byte{}, err
	}
	return rd.Recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
