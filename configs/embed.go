// Package configs embeds the annotated configuration template shipped
// with every build. 'agendex init' writes it so a fresh install gets a
// documented config instead of bare marshaled defaults.
package configs

import _ "embed"

//go:embed agendex.example.yaml
var exampleConfig []byte

// Example returns the annotated default configuration template.
func Example() []byte {
	return exampleConfig
}
