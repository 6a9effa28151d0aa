/*Package comm carries telegrams between a host and a camera side parameter daemon.

A link is any io.ReadWriteCloser: a TCP connection to the daemon, or the serial
console of the camera.  Dial opens one with an exponential backoff, a Pool keeps
a few of them around for concurrent callers, and the telegram functions frame
requests and replies on top.

A minimal client issuing one request looks like

	conn, err := comm.Dial("192.168.0.9:2323", false)
	if err != nil {
		return err
	}
	defer conn.Close()
	resp, err := comm.Transact(conn, comm.Telegram{Op: 0x10, Data: payload})
*/
package comm

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when a nil connection is used
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the end of telegram byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// DefaultBaud is the baud rate of the camera serial console
	DefaultBaud = 115200

	// DialTimeout bounds a single TCP connection attempt
	DialTimeout = 3 * time.Second
)

// RemoteDevice is the address of a daemon and how to reach it
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Baud     int
}

// NewRemoteDevice creates a new RemoteDevice instance
func NewRemoteDevice(addr string, serial bool) RemoteDevice {
	return RemoteDevice{Addr: addr, IsSerial: serial, Baud: DefaultBaud}
}

// SerialConf yields a config for serial.OpenPort
func (rd RemoteDevice) SerialConf() *serial.Config {
	baud := rd.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	return &serial.Config{Name: rd.Addr, Baud: baud}
}

// Open establishes a connection, retrying with an exponential backoff for a
// few seconds.  A refused connection is not retried: nothing is listening.
func (rd RemoteDevice) Open() (io.ReadWriteCloser, error) {
	var conn io.ReadWriteCloser
	op := func() error {
		c, err := rd.open()
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "refused") {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", rd.Addr)
	}
	return conn, nil
}

func (rd RemoteDevice) open() (io.ReadWriteCloser, error) {
	if rd.IsSerial {
		return serial.OpenPort(rd.SerialConf())
	}
	return TCPSetup(rd.Addr, DialTimeout)
}

// Dial is NewRemoteDevice(addr, serial).Open()
func Dial(addr string, serial bool) (io.ReadWriteCloser, error) {
	return NewRemoteDevice(addr, serial).Open()
}

// Maker returns a CreationFunc dialing addr, for use with NewPool
func Maker(addr string, serial bool) CreationFunc {
	rd := NewRemoteDevice(addr, serial)
	return rd.Open
}

// TCPSetup opens a new TCP connection with a timeout on connect.  Requests
// may block for several frames, so no read deadline is set.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return conn, nil
}
