package address

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Delimiter separates the segments of a resource address.
const Delimiter = "::"

// addressLexer splits a resource address into fields and delimiters. Single
// colons and whitespace are lexed as their own tokens so that the grammar
// rejects them instead of silently folding them into a field.
var addressLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Sep", Pattern: `::`},
	{Name: "Colon", Pattern: `:`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Field", Pattern: `[^:\s]+`},
})

// grammar is the parse tree of a resource address: one or more non-empty
// fields joined by "::".
type grammar struct {
	Segments []string `parser:"@Field ( \"::\" @Field )*"`
}

var addressParser = participle.MustBuild[grammar](
	participle.Lexer(addressLexer),
)
