package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirm writes message, asks the user to type 'yes' and reports whether
// they did. End of input counts as a refusal.
func Confirm(in io.Reader, out io.Writer, message string) (bool, error) {
	if message != "" {
		fmt.Fprintln(out, message)
	}
	fmt.Fprint(out, "Type 'yes' to confirm: ")

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.TrimSpace(strings.ToLower(response)) != "yes" {
		fmt.Fprintln(out, "\nConfirmation failed. Operation cancelled.")
		return false, nil
	}
	fmt.Fprintln(out)
	return true, nil
}
