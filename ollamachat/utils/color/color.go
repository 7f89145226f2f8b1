// ollamachat/utils/color/color.go
package color

import (
	"github.com/fatih/color"
)

var (
	promptColor   = color.New(color.FgCyan, color.Bold)
	infoColor     = color.New(color.FgGreen)
	warningColor  = color.New(color.FgYellow, color.Bold)
	errorColor    = color.New(color.FgRed, color.Bold)
	responseColor = color.New(color.FgHiYellow)
)

func ColorPrompt(s string) string {
	return promptColor.Sprint(s)
}

func ColorInfo(s string) string {
	return infoColor.Sprint(s)
}

func ColorWarning(s string) string {
	return warningColor.Sprint(s)
}

func ColorError(s string) string {
	return errorColor.Sprint(s)
}

func ColorResponse(s string) string {
	return responseColor.Sprint(s)
}

// Disable turns colouring off, for output that is not a terminal.
func Disable() {
	color.NoColor = true
}
