// Package asm implements a textual assembler for PVM images. Grammar
// is defined as Go structs with tags, the same Participle v2 style the
// rest of this corpus uses for its own lexer/grammar.
package asm

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Program is one assembly unit: a header directive, zero or more
// function definitions, and the main body's instructions.
type Program struct {
	Header    *Header     `@@`
	Functions []*FuncDecl `@@*`
	Main      []*Line     `".main" @@*`
}

// Header declares how many locals main uses and the constant table, in
// source order (LDC addresses a constant by its position here).
type Header struct {
	MainVariables int64   `".vars" @Int`
	Constants     []int64 `(".const" @Int)*`
}

// FuncDecl declares one callable function's signature, followed by
// either a host builtin-table index or a bytecode body.
type FuncDecl struct {
	Name     string    `".func" @Ident`
	Args     int64     `"args" @Int`
	Vars     int64     `"vars" @Int`
	Returns  int64     `"returns" @Int`
	Variadic bool      `@"variadic"?`
	Impl     *FuncImpl `@@`
}

// FuncImpl is the alternation between a built-in slot and a local body.
type FuncImpl struct {
	Builtin *int64  `  "builtin" @Int`
	Body    []*Line `| @@* ".end"`
}

// Line is one line of assembly body: a label declaration or a
// statement. Mirrors the corpus's two-field alternation idiom.
type Line struct {
	Label *string    `  @Label`
	Stmt  *Statement `| @@`
}

// Statement is a mnemonic with an optional operand: an immediate
// integer, or a label or function name to resolve. Branch and jmb
// statements written without an operand take it from the data stack.
// Mnemonics lex as their own token type, so an operand-less statement
// never takes the next line's mnemonic as its operand.
type Statement struct {
	Mnemonic string  `@Mnemonic`
	IntArg   *int64  `( @Int`
	NameArg  *string `| @Ident )?`
}

var asmLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Comment", Pattern: `;[^\n]*`},
	{Name: "Directive", Pattern: `\.[a-zA-Z]+`},
	{Name: "Label", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*:`},
	{Name: "Int", Pattern: `-?[0-9]+`},
	{Name: "Mnemonic", Pattern: `(psh|bze|bnz|beq|bne|bgt|blt|bge|ble|add|sub|mul|div|pwr|and|ior|xor|skz|snz|skn|snn|slp|ret|ldc|jmb|neg|inv|inc|dec|pop|jmp|cal|ldv|stv)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
})

// Parser is the assembled Participle parser for Program.
var Parser = participle.MustBuild[Program](
	participle.Lexer(asmLexer),
	participle.Elide("Whitespace", "Comment"),
)

// Parse parses PVM assembly source into a Program AST.
func Parse(source string) (*Program, error) {
	return Parser.ParseString("", source)
}
