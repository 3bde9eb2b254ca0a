package provision

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompter reads answers from a line-oriented terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Println writes a line of wizard output.
func (p *Prompter) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

// Printf writes formatted wizard output.
func (p *Prompter) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Ask writes prompt and returns the trimmed answer. End of input before any
// answer is io.ErrUnexpectedEOF.
func (p *Prompter) Ask(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

var yesNo = map[string]bool{"yes": true, "y": true, "ye": true, "no": false, "n": false}

// Confirm asks a yes/no question until it gets a recognisable answer.
func (p *Prompter) Confirm(question string) (bool, error) {
	for {
		answer, err := p.Ask("  " + question + " [y/n] ")
		if err != nil {
			return false, err
		}
		if v, ok := yesNo[strings.ToLower(answer)]; ok {
			return v, nil
		}
		p.Println(`    Please respond with "yes"/"no" or "y"/"n"`)
	}
}
