// Package tokenizer lexes multi-architecture assembly text into a canonical
// token stream. With generalization on, registers/immediates/labels/memory
// size hints collapse to placeholder tokens so that structurally identical
// code written for different architectures (or with renamed registers)
// normalizes to the same stream; mnemonics and punctuation are preserved
// verbatim (uppercased). Tokenize never fails — unrecognized bytes degrade
// to single-character tokens rather than aborting the scan.
package tokenizer

import (
	"crypto/sha256"
	"strings"
	"unicode"

	"github.com/maci0/resembl/pkg/types"
)

const (
	tokReg     = "REG"
	tokImm     = "IMM"
	tokLabel   = "LABEL"
	tokMemSize = "MEM_SIZE"
)

// punctuation is the closed set of punctuation characters emitted verbatim
// in both tokenization modes.
var punctuation = map[byte]struct{}{
	',': {}, '[': {}, ']': {}, '+': {}, '-': {}, '*': {}, ':': {},
}

// Tokenize returns the ordered token stream for code under the given mode.
// It is total: every byte sequence produces a (possibly empty) token slice,
// never an error or a panic.
func Tokenize(code string, mode types.TokenizationMode) []string {
	var tokens []string
	for _, line := range strings.Split(code, "\n") {
		tokens = append(tokens, tokenizeLine(stripComment(line), mode)...)
	}
	return tokens
}

// Normalize tokenizes with generalization on and joins the stream with
// single spaces, producing the canonical string used to derive checksums.
func Normalize(code string) string {
	return strings.Join(Tokenize(code, types.Generalize), " ")
}

// StringChecksum returns the SHA-256 digest of Normalize(code), stable
// across whitespace and comment reformatting.
func StringChecksum(code string) types.Checksum {
	sum := sha256.Sum256([]byte(Normalize(code)))
	return types.Checksum(sum)
}

// stripComment drops a trailing ';' or "//" line comment. A leading '#' is
// resolved by tokenizeLine itself, since '#' also introduces ARM-style
// immediates (e.g. "#8") and the two cannot be told apart without scanning
// what follows.
func stripComment(line string) string {
	if i := strings.Index(line, ";"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	return line
}

func tokenizeLine(line string, mode types.TokenizationMode) []string {
	var tokens []string
	n := len(line)
	i := 0
	for i < n {
		c := line[i]

		if c == ' ' || c == '\t' || c == '\r' {
			i++
			continue
		}

		if c == '#' {
			if j, ok := scanHashImmediate(line, i); ok {
				tokens = append(tokens, immToken(line[i:j], mode))
				i = j
				continue
			}
			// Bare '#' introduces a comment to end of line.
			break
		}

		if isDigit(c) {
			j := i + 1
			for j < n && isAlnum(line[j]) {
				j++
			}
			tokens = append(tokens, immToken(line[i:j], mode))
			i = j
			continue
		}

		if isIdentStart(c) {
			j := i + 1
			for j < n && isIdentPart(line[j]) {
				j++
			}
			word := line[i:j]
			if j < n && line[j] == ':' {
				tokens = append(tokens, labelToken(word, mode))
				i = j + 1
				continue
			}
			tokens = append(tokens, wordToken(word, mode))
			i = j
			continue
		}

		if _, ok := punctuation[c]; ok {
			tokens = append(tokens, string(c))
			i++
			continue
		}

		// Unrecognized byte: emit as its own single-character token rather
		// than aborting the scan.
		tokens = append(tokens, string(c))
		i++
	}
	return tokens
}

// scanHashImmediate checks whether the '#' at line[i] introduces an
// assembler-style immediate (e.g. "#8", "#-1"); if so it returns the end
// offset of the token.
func scanHashImmediate(line string, i int) (int, bool) {
	n := len(line)
	j := i + 1
	if j < n && line[j] == '-' {
		j++
	}
	if j >= n || !isDigit(line[j]) {
		return 0, false
	}
	for j < n && isAlnum(line[j]) {
		j++
	}
	return j, true
}

func immToken(raw string, mode types.TokenizationMode) string {
	if mode == types.Generalize {
		return tokImm
	}
	return strings.ToUpper(raw)
}

func labelToken(raw string, mode types.TokenizationMode) string {
	if mode == types.Generalize {
		return tokLabel
	}
	return strings.ToUpper(raw) + ":"
}

func wordToken(raw string, mode types.TokenizationMode) string {
	lower := strings.ToLower(raw)
	if mode == types.Generalize {
		if isRegister(lower) {
			return tokReg
		}
		if isMemorySizeHint(lower) {
			return tokMemSize
		}
	}
	return strings.ToUpper(raw)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlnum(c byte) bool {
	return isDigit(c) || unicode.IsLetter(rune(c))
}

func isIdentStart(c byte) bool {
	return unicode.IsLetter(rune(c)) || c == '_' || c == '.' || c == '$' || c == '?'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
