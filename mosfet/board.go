package mosfet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bdube/magbead/comm"
	"github.com/bdube/magbead/util"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

// DefaultBaud is the baud rate of Smoothie-style motion boards
const DefaultBaud = 115200

/* mosfet outputs on the board are switched with pairs of M-codes,
   M40/M41 for output 0, M42/M43 for output 1, and so on.  The odd code of
   the pair turns the output on.
*/
const mosfetBaseCode = 40

// mosfetCode returns the M-code which turns output idx on or off
func mosfetCode(idx int, on bool) string {
	code := mosfetBaseCode + 2*idx
	if on {
		code++
	}
	return "M" + strconv.Itoa(code)
}

// makeSerConf makes a new serial.Config with correct parity, baud, etc, set.
func makeSerConf(addr string, baud int) *serial.Config {
	if baud <= 0 {
		baud = DefaultBaud
	}
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: comm.DefaultTimeout}
}

// Board is a motion control board with switched mosfet outputs, spoken to
// in ASCII G-code over serial or TCP.  The connection is opened on first use
// and held until Close.
type Board struct {
	*comm.RemoteDevice

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewBoard creates a new Board.  cmdRate limits the number of commands sent
// per second; zero or less is unlimited
func NewBoard(addr string, serial bool, baud int, cmdRate float64) *Board {
	rd := comm.NewRemoteDevice(addr, serial, nil, makeSerConf(addr, baud))
	lim := rate.Inf
	if cmdRate > 0 {
		lim = rate.Limit(cmdRate)
	}
	return &Board{RemoteDevice: &rd, limiter: rate.NewLimiter(lim, 1)}
}

// Raw sends a command to the board and returns the response as-is
func (b *Board) Raw(cmd string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.limiter.Wait(context.Background()); err != nil {
		return "", err
	}
	if err := b.Open(); err != nil {
		return "", err
	}
	resp, err := b.SendRecv([]byte(cmd))
	if err != nil {
		// a half-finished exchange leaves junk in the pipe, start over next time
		b.RemoteDevice.Close()
		return "", err
	}
	return string(resp), nil
}

// command sends cmd and checks that the board acknowledged it with ok
func (b *Board) command(cmd string) error {
	resp, err := b.Raw(cmd)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.TrimSpace(resp), "ok") {
		return fmt.Errorf("%w: %s responded %q", ErrBadResponse, cmd, resp)
	}
	return nil
}

// pause holds the board for d.  Every earlier command was acknowledged
// before pause is reached, so nothing queued on the board is left to run
func (b *Board) pause(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	time.Sleep(d)
}

// Close closes the connection to the board
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.RemoteDevice.Close()
}

// Mosfet returns the output at idx
func (b *Board) Mosfet(idx int) (Switch, error) {
	if err := checkIndex(idx); err != nil {
		return nil, err
	}
	return &output{board: b, index: idx}, nil
}

// output is one switched output of a Board
type output struct {
	board *Board
	index int
}

// Engage turns the output on
func (o *output) Engage() error {
	return o.board.command(mosfetCode(o.index, true))
}

// Disengage turns the output off
func (o *output) Disengage() error {
	return o.board.command(mosfetCode(o.index, false))
}

// Wait holds the board for secs seconds.  The pause happens on the host;
// a dwell on the board would outlast the read timeout of the connection
func (o *output) Wait(secs float64) error {
	if secs < 0 {
		return ErrNegativeWait
	}
	o.board.pause(util.SecsToDuration(secs))
	return nil
}

func (o *output) String() string {
	return strconv.Itoa(o.index)
}
