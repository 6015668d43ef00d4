package theme

import (
	"fmt"
)

// Banner returns the CLI banner shown by init and serve.
func Banner() string {
	const cyan = "\033[36m"
	const magenta = "\033[35m"
	const reset = "\033[0m"

	pulse := cyan + "  ──────╮  ╭╮  ╭────────╮  ╭╮  ╭──────\n" + reset +
		cyan + "        ╰──╯╰──╯        ╰──╯╰──╯\n" + reset
	return "\n  " + magenta + "POSTPULSE" + reset + "  engagement analytics\n" + pulse
}

// PrintBanner prints the banner to stdout.
func PrintBanner() {
	fmt.Print(Banner())
}
