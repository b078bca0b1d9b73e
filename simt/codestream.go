package simt

import (
	"fmt"
	"strings"

	"github.com/notargets/SpikeKernel/merging"
)

const indentUnit = "    "

// CodeStream accumulates generated C. Lines opening a brace indent the lines
// that follow and lines starting with a closing brace dedent. The first
// error from Code or Fail is kept and later writes still go through so a
// whole kernel can be emitted before the error is checked.
type CodeStream struct {
	sb     strings.Builder
	indent int
	err    error
}

func NewCodeStream() *CodeStream {
	return &CodeStream{}
}

// Line writes s, which may span several lines
func (c *CodeStream) Line(s string) {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			c.sb.WriteString("\n")
			continue
		}
		if strings.HasPrefix(line, "}") && c.indent > 0 {
			c.indent--
		}
		c.sb.WriteString(strings.Repeat(indentUnit, c.indent))
		c.sb.WriteString(line)
		c.sb.WriteString("\n")
		if strings.HasSuffix(line, "{") {
			c.indent++
		}
	}
}

func (c *CodeStream) Printf(format string, args ...interface{}) {
	c.Line(fmt.Sprintf(format, args...))
}

func (c *CodeStream) Blank() {
	c.sb.WriteString("\n")
}

// Scope wraps whatever body writes in a brace block
func (c *CodeStream) Scope(body func()) {
	c.Line("{")
	body()
	c.Line("}")
}

// Code expands simulation code against env and writes it
func (c *CodeStream) Code(env merging.Environment, code string) {
	expanded, err := merging.Substitute(env, code)
	if err != nil {
		c.Fail(err)
		return
	}
	c.Line(expanded)
}

// Expand is Code without writing, for expressions spliced into other lines
func (c *CodeStream) Expand(env merging.Environment, code string) string {
	expanded, err := merging.Substitute(env, code)
	if err != nil {
		c.Fail(err)
		return ""
	}
	return expanded
}

// Append copies another stream at the current indentation
func (c *CodeStream) Append(o *CodeStream) {
	if o.err != nil {
		c.Fail(o.err)
	}
	if o.sb.Len() > 0 {
		c.Line(strings.TrimRight(o.sb.String(), "\n"))
	}
}

func (c *CodeStream) Fail(err error) {
	if c.err == nil && err != nil {
		c.err = err
	}
}

func (c *CodeStream) Err() error     { return c.err }
func (c *CodeStream) String() string { return c.sb.String() }
func (c *CodeStream) Len() int       { return c.sb.Len() }
