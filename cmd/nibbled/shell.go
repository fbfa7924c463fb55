package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/nibbled/internal/device"
	"github.com/xtxerr/nibbled/internal/errors"
)

// shell is the interactive front end: it plays both the producer (feed)
// and the readers (open, read, close).
type shell struct {
	dev     *device.Device
	out     io.Writer
	handles map[uint64]*device.Handle
}

func newShell(dev *device.Device, out io.Writer) *shell {
	return &shell{
		dev:     dev,
		out:     out,
		handles: make(map[uint64]*device.Handle),
	}
}

var commands = []prompt.Suggest{
	{Text: "open", Description: "open a read-only handle"},
	{Text: "read", Description: "read <handle> [n]: read up to n bytes (default 4096)"},
	{Text: "close", Description: "close <handle>"},
	{Text: "handles", Description: "list open handles"},
	{Text: "status", Description: "show the device status report"},
	{Text: "limit", Description: "limit <n>: set the concurrent reader limit"},
	{Text: "feed", Description: "feed <text> | feed hex <bytes>: deliver one session"},
	{Text: "exit", Description: "leave the shell"},
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

// execute runs one command line. It reports whether the shell should exit.
func (s *shell) execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "exit", "quit":
		s.closeAll()
		return true
	case "open":
		err = s.open()
	case "read":
		err = s.read(fields[1:])
	case "close":
		err = s.close(fields[1:])
	case "handles":
		s.list()
	case "status":
		fmt.Fprint(s.out, s.dev.Status().String())
	case "limit":
		err = s.limit(fields[1:])
	case "feed":
		err = s.feed(strings.TrimSpace(strings.TrimPrefix(line, "feed")))
	case "help":
		for _, c := range commands {
			fmt.Fprintf(s.out, "  %-8s %s\n", c.Text, c.Description)
		}
	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}

	if err != nil {
		fmt.Fprintf(s.out, "error [%s]: %v\n", errors.CodeName(errors.ErrorToCode(err)), err)
	}
	return false
}

func (s *shell) open() error {
	h, err := s.dev.Open(device.ReadOnly)
	if err != nil {
		return err
	}
	s.handles[h.ID()] = h
	fmt.Fprintf(s.out, "handle %d\n", h.ID())
	return nil
}

func (s *shell) handle(args []string) (*device.Handle, error) {
	if len(args) == 0 {
		return nil, errors.NewInvalidArgument("handle", "", "missing")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return nil, errors.NewInvalidArgument("handle", args[0], "not a number")
	}
	h, ok := s.handles[id]
	if !ok {
		return nil, errors.NewInvalidArgument("handle", id, "not open")
	}
	return h, nil
}

func (s *shell) read(args []string) error {
	h, err := s.handle(args)
	if err != nil {
		return err
	}

	n := 4096
	if len(args) > 1 {
		n, err = strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return errors.NewInvalidArgument("length", args[1], "must be a positive number")
		}
	}

	buf := make([]byte, n)
	got, err := h.Read(buf)
	if err == io.EOF {
		state := "nothing to read"
		if h.Exhausted() {
			state = "session exhausted"
		}
		fmt.Fprintf(s.out, "0 bytes (%s)\n", state)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%d bytes, offset %d\n", got, h.Offset())
	fmt.Fprint(s.out, hex.Dump(buf[:got]))
	return nil
}

func (s *shell) close(args []string) error {
	h, err := s.handle(args)
	if err != nil {
		return err
	}
	delete(s.handles, h.ID())
	return h.Close()
}

func (s *shell) closeAll() {
	for id, h := range s.handles {
		h.Close()
		delete(s.handles, id)
	}
}

func (s *shell) list() {
	ids := make([]uint64, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		h := s.handles[id]
		size, read, ok := h.Session()
		if !ok {
			fmt.Fprintf(s.out, "handle %d: idle\n", id)
			continue
		}
		fmt.Fprintf(s.out, "handle %d: %d/%d bytes, exhausted=%v\n", id, read, size, h.Exhausted())
	}
}

func (s *shell) limit(args []string) error {
	if len(args) != 1 {
		return errors.NewInvalidArgument("limit", strings.Join(args, " "), "expected one number")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.NewInvalidArgument("limit", args[0], "not a number")
	}
	return s.dev.SetMaxReaders(n)
}

// feed delivers the payload as nibbles followed by the sentinel. A payload
// byte equal to the sentinel ends the session early.
func (s *shell) feed(arg string) error {
	data := []byte(arg)
	if rest, ok := strings.CutPrefix(arg, "hex "); ok {
		decoded, err := hex.DecodeString(strings.ReplaceAll(rest, " ", ""))
		if err != nil {
			return errors.NewInvalidArgument("hex", rest, err.Error())
		}
		data = decoded
	}

	for _, b := range data {
		s.dev.OnNibble(b >> 4)
		s.dev.OnNibble(b & 0x0f)
		s.dev.Flush()
	}
	s.dev.OnNibble(s.dev.Sentinel() >> 4)
	s.dev.OnNibble(s.dev.Sentinel() & 0x0f)
	s.dev.Flush()

	fmt.Fprintf(s.out, "fed %d bytes\n", len(data))
	return nil
}

// runShell runs the interactive prompt until the user exits.
func runShell(dev *device.Device, out io.Writer) {
	sh := newShell(dev, out)
	done := false

	p := prompt.New(
		func(line string) { done = sh.execute(line) },
		sh.complete,
		prompt.OptionPrefix("nibbled> "),
		prompt.OptionTitle("nibbled"),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return done }),
	)
	p.Run()
	sh.closeAll()
}
