package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _              _                   _ 
 | |_ ___   __| | ___   __ _ _ __ (_)
 | __/ _ \ / _` + "`" + ` |/ _ \ / _` + "`" + ` | '_ \| |
 | || (_) | (_| | (_) | (_| | |_) | |
  \__\___/ \__,_|\___/ \__,_| .__/|_|
                            |_|      
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Todo API - Version %s\x1b[0m\n\n", Version)
}
