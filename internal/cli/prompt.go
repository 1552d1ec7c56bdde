package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrInputClosed is returned once stdin reaches EOF.
var ErrInputClosed = errors.New("input closed")

// console reads operator answers line by line. Lines are pumped from a
// goroutine so a pending prompt can be abandoned when ctx is cancelled.
type console struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: in, out: out, lines: make(chan string)}
}

func (c *console) pump() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	close(c.lines)
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) println(args ...any) {
	fmt.Fprintln(c.out, args...)
}

// ask prints prompt and returns the trimmed answer.
func (c *console) ask(ctx context.Context, prompt string) (string, error) {
	c.once.Do(func() { go c.pump() })

	c.printf("%s", prompt)

	select {
	case <-ctx.Done():
		c.println()
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", ErrInputClosed
		}
		return strings.TrimSpace(line), nil
	}
}

// Prompt implements auth.Prompter on the console.
func (c *console) Prompt(ctx context.Context, authURL string) (string, error) {
	c.println()
	c.println("Open this URL in your browser and approve access:")
	c.println()
	c.println("  " + authURL)
	c.println()
	c.println("After approving, paste the full URL you were redirected to")
	c.println("(or just the code, or an access token).")

	return c.ask(ctx, "> ")
}
