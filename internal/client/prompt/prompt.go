// Package prompt reads tag names, phrases and content from the terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers line by line from in and writes labels to out.
// Phrases are read without echo when in is a terminal.
type Prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
	fd      int
	isTTY   bool
}

// New returns a Prompter over in and out.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{scanner: bufio.NewScanner(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok {
		p.fd = int(f.Fd())
		p.isTTY = term.IsTerminal(p.fd)
	}
	return p
}

// Stdio returns a Prompter on the process's stdin and stdout.
func Stdio() *Prompter { return New(os.Stdin, os.Stdout) }

// Line prints label and returns the next trimmed line.
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// Phrase prints label and reads an activation phrase. The caller owns the
// returned bytes and should zero them after use.
func (p *Prompter) Phrase(label string) ([]byte, error) {
	fmt.Fprint(p.out, label)
	if p.isTTY {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return nil, fmt.Errorf("failed to read phrase: %w", err)
		}
		return b, nil
	}
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		return nil, io.EOF
	}
	return []byte(strings.TrimRight(p.scanner.Text(), "\r")), nil
}

// NewPhrase reads a phrase twice and fails if the two differ.
func (p *Prompter) NewPhrase(label string) ([]byte, error) {
	first, err := p.Phrase(label)
	if err != nil {
		return nil, err
	}
	second, err := p.Phrase("Repeat: ")
	if err != nil {
		clear(first)
		return nil, err
	}
	defer clear(second)
	if string(first) != string(second) {
		clear(first)
		return nil, errors.New("phrases do not match")
	}
	return first, nil
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (p *Prompter) Confirm(label string) bool {
	ans, err := p.Line(label + " [y/N]: ")
	if err != nil {
		return false
	}
	switch strings.ToLower(ans) {
	case "y", "yes":
		return true
	}
	return false
}

// Content reads content either from a file path or as a single typed line.
func (p *Prompter) Content() (string, error) {
	path, err := p.Line("Enter file path to load (leave empty for manual input): ")
	if err != nil {
		return "", err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read file %q: %w", path, err)
		}
		return string(data), nil
	}
	return p.Line("Enter text: ")
}
