package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// promptListener tells the user a code is on its way. The code itself is typed in.
type promptListener struct{ out io.Writer }

func (p promptListener) ListenForLoginOtp(context.Context) error {
	_, err := fmt.Fprintln(p.out, "A login code was sent by SMS.")
	return err
}

// readLine prompts on out and reads one trimmed line from in.
func readLine(ctx context.Context, in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- result{strings.TrimSpace(line), err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}
