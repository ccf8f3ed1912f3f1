package authctl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// ErrPasswordMismatch is returned when the confirmation differs.
var ErrPasswordMismatch = errors.New("passwords do not match")

// getSimpleText prints prompt to w and reads one trimmed line. A final line
// without a newline is accepted.
func getSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+": "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// getPassword reads a password twice from the terminal without echo.
func getPassword(w io.Writer) (string, error) {
	read := func(prompt string) ([]byte, error) {
		if _, err := fmt.Fprint(w, prompt); err != nil {
			return nil, err
		}
		pw, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(w)
		return pw, err
	}

	pw, err := read("Password: ")
	if err != nil {
		return "", err
	}
	confirm, err := read("Repeat password: ")
	if err != nil {
		return "", err
	}
	if string(pw) != string(confirm) {
		return "", ErrPasswordMismatch
	}
	return string(pw), nil
}
