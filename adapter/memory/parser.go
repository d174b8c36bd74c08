package memory

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

var ErrCorruptDump = errors.New("corrupt dump")

type commandCode uint8

const (
	invalidCode commandCode = iota
	setCode
	delCode
)

type command struct {
	code commandCode
	key  string
	data []byte
}

// parser reads the RESP stream written by WriteTo and by the journal.
type parser struct {
	currentLine int
	totalSize   int64
}

func (p *parser) parse(r *bufio.Reader, cb func(cmd command) error) (int64, error) {
	for {
		if _, err := r.Peek(1); err != nil {
			if err == io.EOF {
				return p.totalSize, nil
			}
			return p.totalSize, errors.Wrap(ErrCorruptDump, err.Error())
		}

		segments, err := p.resolveRespArray(r)
		if err != nil {
			return p.totalSize, err
		}

		code, err := p.resolveRespCommandCode(r)
		if err != nil {
			return p.totalSize, err
		}

		cmd := command{code: code}

		key, err := p.resolveRespBlob(r)
		if err != nil {
			return p.totalSize, err
		}
		cmd.key = string(key)

		switch code {
		case setCode:
			if segments != 3 {
				return p.totalSize, errors.Wrapf(ErrCorruptDump, "line #%d: set expects 3 segments, got %d", p.currentLine, segments)
			}
			if cmd.data, err = p.resolveRespBlob(r); err != nil {
				return p.totalSize, err
			}
		case delCode:
			if segments != 2 {
				return p.totalSize, errors.Wrapf(ErrCorruptDump, "line #%d: del expects 2 segments, got %d", p.currentLine, segments)
			}
		}

		if err := cb(cmd); err != nil {
			return p.totalSize, err
		}
	}
}

func (p *parser) readLine(r *bufio.Reader) ([]byte, error) {
	p.currentLine++
	line, err := r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(ErrCorruptDump, "line #%d: %v", p.currentLine, io.ErrUnexpectedEOF)
		}
		return nil, errors.Wrapf(ErrCorruptDump, "line #%d: %v", p.currentLine, err)
	}

	p.totalSize += int64(len(line))

	if len(line) < 3 || line[len(line)-2] != '\r' {
		return nil, errors.Wrapf(ErrCorruptDump, "line #%d - %q is not terminated properly", p.currentLine, line)
	}

	return line[:len(line)-2], nil
}

func (p *parser) resolveRespArray(r *bufio.Reader) (int, error) {
	line, err := p.readLine(r)
	if err != nil {
		return 0, err
	}

	if line[0] != '*' {
		return 0, errors.Wrapf(ErrCorruptDump, "line #%d - %q should start with *", p.currentLine, line)
	}

	n, err := strconv.Atoi(string(line[1:]))
	if err != nil {
		return 0, errors.Wrapf(ErrCorruptDump, "could not parse command size at line #%d: %v", p.currentLine, err)
	}

	return n, nil
}

func (p *parser) resolveRespCommandCode(r *bufio.Reader) (commandCode, error) {
	line, err := p.readLine(r)
	if err != nil {
		return invalidCode, err
	}

	if line[0] != '+' {
		return invalidCode, errors.Wrapf(ErrCorruptDump, "at line #%d, any command should start with + symbol", p.currentLine)
	}

	switch string(line[1:]) {
	case setCommand:
		return setCode, nil
	case delCommand:
		return delCode, nil
	}

	return invalidCode, errors.Wrapf(ErrCorruptDump, "at line #%d command [%s] is unknown", p.currentLine, line[1:])
}

func (p *parser) resolveRespBlob(r *bufio.Reader) ([]byte, error) {
	line, err := p.readLine(r)
	if err != nil {
		return nil, err
	}

	if line[0] != '$' {
		return nil, errors.Wrapf(ErrCorruptDump, "line #%d - %q does not contain valid length", p.currentLine, line)
	}

	blobLen, err := strconv.Atoi(string(line[1:]))
	if err != nil || blobLen < 0 {
		return nil, errors.Wrapf(ErrCorruptDump, "line #%d - %q has invalid length", p.currentLine, line)
	}

	p.currentLine++
	blob := make([]byte, blobLen+2)
	n, err := io.ReadFull(r, blob)
	p.totalSize += int64(n)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptDump, "line #%d: %v", p.currentLine, io.ErrUnexpectedEOF)
	}

	if blob[blobLen] != '\r' || blob[blobLen+1] != '\n' {
		return nil, errors.Wrapf(ErrCorruptDump, "line #%d - blob is not terminated properly", p.currentLine)
	}

	return blob[:blobLen], nil
}
